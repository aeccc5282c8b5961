package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"mdoccore/pkg/logger"
	"mdoccore/pkg/mdoc"
	"mdoccore/pkg/model"
	"mdoccore/pkg/trace"

	"github.com/google/uuid"
)

// EventKind identifies what happened to a document.
type EventKind int

const (
	EventAdded EventKind = iota
	EventUpdated
	EventDeleted
)

// Event is emitted on the Store's event stream whenever a document is
// created, updated or deleted. Deleted is always the last event
// observed for a given identifier (spec §5 ordering guarantee).
type Event struct {
	Kind       EventKind
	Identifier string
}

// Store is the holder-side document/credential store: one store-wide
// mutex guards the identifier index and the event stream, one
// per-document mutex guards each Document's credential collection.
// Per spec §5, a document lock is never held across a store-lock
// acquisition.
type Store struct {
	cfg     *model.Cfg
	log     *logger.Log
	tracer  *trace.Tracer
	backend Backend

	migrate MigrationFunc

	mu        sync.RWMutex
	documents map[string]*Document
	docLocks  map[string]*sync.Mutex

	issuerTrust *mdoc.IACATrustList

	events chan Event
}

// New constructs a Store and loads its initial document set from
// backend, migrating any v0 rows it finds.
func New(ctx context.Context, cfg *model.Cfg, log *logger.Log, tracer *trace.Tracer, backend Backend) (*Store, error) {
	s := &Store{
		cfg:       cfg,
		log:       log.New("store"),
		tracer:    tracer,
		backend:   backend,
		migrate:   defaultMigrateV0,
		documents: make(map[string]*Document),
		docLocks:  make(map[string]*sync.Mutex),
		events:    make(chan Event, 256),
	}

	if err := s.load(ctx); err != nil {
		return nil, err
	}

	s.log.Info("started", "documents", len(s.documents))
	return s, nil
}

// SetMigrationFunc replaces the Store's v0 row decoder. New loads and
// migrates every backend row with the built-in decoder before it
// returns, and the Store does not load rows again afterwards, so a
// function installed here is not applied to any row New has loaded.
func (s *Store) SetMigrationFunc(fn MigrationFunc) {
	s.migrate = fn
}

// Events returns the store's event stream. Readers must drain it;
// Store never blocks trying to send (the channel is generously
// buffered per spec §9's "unbounded buffer" guidance, reflected here
// as a large fixed buffer since an in-process channel cannot truly be
// unbounded).
func (s *Store) Events() <-chan Event {
	return s.events
}

func (s *Store) emit(evt Event) {
	select {
	case s.events <- evt:
	default:
		s.log.Info("event stream full, dropping oldest", "kind", evt.Kind, "identifier", evt.Identifier)
		select {
		case <-s.events:
		default:
		}
		s.events <- evt
	}
}

func (s *Store) load(ctx context.Context) error {
	_, span := s.tracer.Start(ctx, "store:load")
	defer span.End()

	rows, err := s.backend.Load()
	if err != nil {
		return fmt.Errorf("%w: %s", model.ErrStorage, err)
	}

	for identifier, raw := range rows {
		doc, ok := decodeDocumentV1(raw)
		if !ok {
			migrated, err := s.migrate(identifier, raw)
			if err != nil {
				s.log.Info("dropping unmigratable row", "identifier", identifier, "error", err.Error())
				continue
			}
			doc = migrated
			if encoded, err := encodeDocument(doc); err == nil {
				_ = s.backend.Save(identifier, encoded)
			}
		}
		s.documents[identifier] = doc
		s.docLocks[identifier] = &sync.Mutex{}
	}
	return nil
}

// CreateDocument creates and persists a new, empty Document.
// Identifier is generated if not already set.
func (s *Store) CreateDocument(ctx context.Context, doc *Document) (*Document, error) {
	_, span := s.tracer.Start(ctx, "store:createDocument")
	defer span.End()

	if doc.Identifier == "" {
		doc.Identifier = uuid.NewString()
	}

	encoded, err := encodeDocument(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", model.ErrStorage, err)
	}

	s.mu.Lock()
	if _, exists := s.documents[doc.Identifier]; exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: document %q already exists", model.ErrStorage, doc.Identifier)
	}
	if err := s.backend.Save(doc.Identifier, encoded); err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", model.ErrStorage, err)
	}
	s.documents[doc.Identifier] = doc
	s.docLocks[doc.Identifier] = &sync.Mutex{}
	s.mu.Unlock()

	s.emit(Event{Kind: EventAdded, Identifier: doc.Identifier})
	return doc, nil
}

// LookupDocument returns the document with the given identifier.
func (s *Store) LookupDocument(ctx context.Context, identifier string) (*Document, error) {
	_, span := s.tracer.Start(ctx, "store:lookupDocument")
	defer span.End()

	s.mu.RLock()
	doc, ok := s.documents[identifier]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: document %q", model.ErrNotFound, identifier)
	}
	return doc, nil
}

// ListDocumentIds returns every known document identifier, unordered.
func (s *Store) ListDocumentIds(ctx context.Context) []string {
	_, span := s.tracer.Start(ctx, "store:listDocumentIds")
	defer span.End()

	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.documents))
	for id := range s.documents {
		ids = append(ids, id)
	}
	return ids
}

// DeleteDocument removes a document and its credentials.
func (s *Store) DeleteDocument(ctx context.Context, identifier string) error {
	_, span := s.tracer.Start(ctx, "store:deleteDocument")
	defer span.End()

	s.mu.Lock()
	if _, ok := s.documents[identifier]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: document %q", model.ErrNotFound, identifier)
	}
	if err := s.backend.Delete(identifier); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", model.ErrStorage, err)
	}
	delete(s.documents, identifier)
	delete(s.docLocks, identifier)
	s.mu.Unlock()

	s.emit(Event{Kind: EventDeleted, Identifier: identifier})
	return nil
}

// WithDocumentLock runs fn while holding the per-document lock for
// identifier, without holding the store-wide lock — the invariant
// spec §5 requires for credential-cache mutation (e.g. certifying a
// credential or incrementing UsageCount after a successful encrypt).
func (s *Store) WithDocumentLock(ctx context.Context, identifier string, fn func(*Document) error) error {
	s.mu.RLock()
	docLock, ok := s.docLocks[identifier]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: document %q", model.ErrNotFound, identifier)
	}

	docLock.Lock()
	defer docLock.Unlock()

	s.mu.RLock()
	doc := s.documents[identifier]
	s.mu.RUnlock()

	if err := fn(doc); err != nil {
		return err
	}

	encoded, err := encodeDocument(doc)
	if err != nil {
		return fmt.Errorf("%w: %s", model.ErrStorage, err)
	}
	if err := s.backend.Save(identifier, encoded); err != nil {
		return fmt.Errorf("%w: %s", model.ErrStorage, err)
	}

	s.emit(Event{Kind: EventUpdated, Identifier: identifier})
	return nil
}

// SetIssuerTrust installs the IACA trust anchors CertifyCredential
// validates a credential's certificate chain against. A nil or
// never-called trust list leaves CertifyCredential unable to validate
// trust, so callers wire this before any credential is certified.
func (s *Store) SetIssuerTrust(trustList *mdoc.IACATrustList) {
	s.issuerTrust = trustList
}

// CertifyCredential transitions a pending credential to certified
// (spec §3's PendingCertify -> Certified) once the issuer has
// returned the signed IssuerSigned structure for its key. If an
// issuer trust list has been installed via SetIssuerTrust,
// issuerProvidedData's IssuerAuth certificate chain must validate
// against it or the credential is left untouched and
// model.ErrUntrustedIssuer is returned.
func (s *Store) CertifyCredential(ctx context.Context, documentIdentifier, credentialIdentifier string, issuerProvidedData []byte, validFrom, validUntil time.Time) error {
	_, span := s.tracer.Start(ctx, "store:certifyCredential")
	defer span.End()

	if s.issuerTrust != nil {
		encoder, err := mdoc.NewCBOREncoder()
		if err != nil {
			return fmt.Errorf("%w: %s", model.ErrInvalidEncoding, err)
		}
		var issuerSigned mdoc.IssuerSigned
		if err := encoder.Unmarshal(issuerProvidedData, &issuerSigned); err != nil {
			return fmt.Errorf("%w: issuer signed: %s", model.ErrInvalidEncoding, err)
		}
		var issuerAuth mdoc.COSESign1
		if err := encoder.Unmarshal(issuerSigned.IssuerAuth, &issuerAuth); err != nil {
			return fmt.Errorf("%w: issuer auth: %s", model.ErrInvalidEncoding, err)
		}
		chain, err := mdoc.GetCertificateChainFromSign1(&issuerAuth)
		if err != nil {
			return fmt.Errorf("%w: %s", model.ErrUntrustedIssuer, err)
		}
		if err := s.issuerTrust.IsTrusted(chain); err != nil {
			return fmt.Errorf("%w: %s", model.ErrUntrustedIssuer, err)
		}
	}

	return s.WithDocumentLock(ctx, documentIdentifier, func(d *Document) error {
		for _, c := range d.Credentials() {
			if c.Identifier == credentialIdentifier {
				c.Certify(issuerProvidedData, validFrom, validUntil)
				return nil
			}
		}
		return fmt.Errorf("%w: credential %q", model.ErrNotFound, credentialIdentifier)
	})
}

// DeleteCredential removes the credential credentialIdentifier from
// documentIdentifier's document (the deleteCredential transition,
// Certified -> Gone): it clears the credential's secure-area key
// material and breaks the replacement chain of any sibling credential
// pointing at it via ReplacementForIdentifier.
func (s *Store) DeleteCredential(ctx context.Context, documentIdentifier, credentialIdentifier string) error {
	_, span := s.tracer.Start(ctx, "store:deleteCredential")
	defer span.End()

	return s.WithDocumentLock(ctx, documentIdentifier, func(d *Document) error {
		removed := d.DeleteCredential(credentialIdentifier)
		if removed == nil {
			return fmt.Errorf("%w: credential %q", model.ErrNotFound, credentialIdentifier)
		}
		if removed.Key != nil {
			if err := removed.Key.DeleteFromSecureArea(); err != nil {
				s.log.Info("failed to delete secure-area key material", "credential", credentialIdentifier, "error", err.Error())
			}
		}
		return nil
	})
}

// Close releases the store's resources, following the teacher's
// Close(ctx) shutdown convention for long-lived services.
func (s *Store) Close(ctx context.Context) error {
	close(s.events)
	return nil
}
