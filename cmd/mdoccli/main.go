package main

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"mdoccore/internal/dcapi"
	"mdoccore/internal/presentment"
	"mdoccore/internal/store"
	"mdoccore/pkg/configuration"
	"mdoccore/pkg/helpers"
	"mdoccore/pkg/hpke"
	"mdoccore/pkg/logger"
	"mdoccore/pkg/mdoc"
	"mdoccore/pkg/pki"
	"mdoccore/pkg/trace"
	"mdoccore/pkg/trust"
)

type service interface {
	Close(ctx context.Context) error
}

func main() {
	var wg sync.WaitGroup
	ctx := context.Background()

	services := make(map[string]service)

	cfg, err := configuration.New(ctx)
	if err != nil {
		panic(helpers.NewErrorFromError(err))
	}

	log, err := logger.New("mdoccli", cfg.Log.FolderPath, cfg.Common.Production)
	if err != nil {
		panic(err)
	}
	tracer, err := trace.New(ctx, cfg, log, "mdoccore", "mdoccli")
	if err != nil {
		panic(err)
	}

	trustedReaders := mdoc.NewReaderTrustList()
	localTrust := trust.NewLocalTrustEvaluator(trust.LocalTrustConfig{})
	for _, path := range cfg.Reader.TrustedCAPaths {
		cert, _, err := pki.ParseX509CertificateFromFile(path)
		if err != nil {
			log.New("main").Info("failed to load trusted reader CA", "path", path, "error", err.Error())
			continue
		}
		trustedReaders.AddTrustedCA(cert)
		localTrust.AddTrustedRoot(cert)
	}

	trustedIssuers := mdoc.NewIACATrustList()
	for _, path := range cfg.Issuer.TrustedCAPaths {
		cert, _, err := pki.ParseX509CertificateFromFile(path)
		if err != nil {
			log.New("main").Info("failed to load trusted issuer IACA", "path", path, "error", err.Error())
			continue
		}
		if err := trustedIssuers.AddTrustedIACA(cert); err != nil {
			log.New("main").Info("rejecting issuer IACA", "path", path, "error", err.Error())
		}
	}

	storeService, err := store.New(ctx, cfg, log.New("store"), tracer, store.NewMemoryBackend())
	services["store"] = storeService
	if err != nil {
		panic(helpers.NewErrorFromError(err))
	}
	storeService.SetIssuerTrust(trustedIssuers)

	statusCheck := mdoc.NewVerifierStatusCheck(mdoc.NewStatusChecker())

	source := &presentment.DefaultSource{
		Store:          storeService,
		TrustEvaluator: localTrust,
		Consent:        autoAcceptConsent(log.New("consent")),
	}

	// dcapiDispatcher is the integration point a browser binding (out of
	// this module's scope) calls per incoming W3C DC API request; this
	// binary only constructs and wires it.
	dcapiDispatcher := dcapi.New(source, storeService, trustedReaders, log.New("dcapi"))
	dcapiDispatcher.StatusCheck = statusCheck
	log.New("main").Info("dc api dispatcher ready", "dispatcher", fmt.Sprintf("%T", dcapiDispatcher))

	if cfg.DCAPI.RecipientKeyPath != "" {
		if _, err := loadDCAPIRecipientKey(cfg.DCAPI.RecipientKeyPath); err != nil {
			log.New("main").Info("failed to load DC API recipient key", "error", err.Error())
		}
	}

	// Handle sigterm and await termChan signal
	termChan := make(chan os.Signal, 1)
	signal.Notify(termChan, syscall.SIGINT, syscall.SIGTERM)

	<-termChan // Blocks here until interrupted

	mainLog := log.New("main")
	mainLog.Info("HALTING SIGNAL!")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	for serviceName, svc := range services {
		if err := svc.Close(shutdownCtx); err != nil {
			mainLog.Info("service close failed", "serviceName", serviceName, "error", err.Error())
		}
	}

	if err := tracer.Shutdown(shutdownCtx); err != nil {
		mainLog.Info("tracer shutdown failed", "error", err.Error())
	}

	wg.Wait() // Block here until all workers are done

	mainLog.Info("Stopped")
}

// autoAcceptConsent is a placeholder PresentmentSource.Consent that
// approves every preselected document without surfacing a prompt; a
// host embedding this binary in a real wallet UI replaces it.
func autoAcceptConsent(log *logger.Log) func(ctx context.Context, requester presentment.Requester, trustMetadata *trust.TrustDecision, data []presentment.ConsentItem, preselected []*store.Document) (*presentment.Selection, error) {
	return func(ctx context.Context, requester presentment.Requester, trustMetadata *trust.TrustDecision, data []presentment.ConsentItem, preselected []*store.Document) (*presentment.Selection, error) {
		log.Info("auto-accepting presentment consent", "documentCount", len(preselected))
		return &presentment.Selection{Documents: preselected}, nil
	}
}

// loadDCAPIRecipientKey reads a PEM-encoded P-256 private key and
// converts it to the fixed-width scalar encoding RFC 9180's
// DHKEM(P-256) expects (the same big-endian, curve-order-length
// representation SEC1 uses for the private scalar). main only checks
// that the configured key loads; the key is not handed to the DC API
// dispatcher.
func loadDCAPIRecipientKey(path string) (any, error) {
	key, err := pki.ParseKeyFromFile(path)
	if err != nil {
		return nil, err
	}
	ecKey, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("DC API recipient key at %s is not an EC private key", path)
	}

	suite := hpke.NewSuite(hpke.DHKEM_P256_HKDF_SHA256, hpke.HKDF_SHA256, hpke.AES128GCM)
	scalar := make([]byte, 32)
	ecKey.D.FillBytes(scalar)
	priv, err := suite.UnmarshalPrivateKey(scalar)
	if err != nil {
		return nil, fmt.Errorf("decoding DC API recipient key: %w", err)
	}
	return priv, nil
}
