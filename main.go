package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	mysql "github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := LoadConfig(".")
	if err != nil {
		logrus.WithError(err).Fatal("load configuration")
	}

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetOutput(os.Stdout)
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(lvl)
	}

	var db *sql.DB
	var storage ObjectStorage
	var persist Persister
	var devAssets *DevStorage

	if cfg.DevMode {
		log.Info("DEV_MODE=true: running without MySQL/Cloudinary (in-memory page, in-process object storage)")
		devAssets = NewDevStorage("http://localhost" + cfg.ListenAddr)
		storage = devAssets
		persist = NewMemPersister()
	} else {
		// If the DSN requests tls=tidb, register a TLS config named "tidb".
		if strings.Contains(cfg.MySQLDSN, "tls=tidb") {
			registerTiDBTLS(cfg.TiDBCAPath, log)
		}

		db, err = sql.Open("mysql", cfg.MySQLDSN)
		if err != nil {
			log.WithError(err).Fatal("open db")
		}
		defer db.Close()
		if err := db.Ping(); err != nil {
			log.WithError(err).Fatal("ping db")
		}
		if err := ensureTables(db); err != nil {
			log.WithError(err).Fatal("ensure tables")
		}
		persist = NewMySQLPersister(db)

		storage, err = NewCloudinaryStorage(cfg.CloudinaryURL, log)
		if err != nil {
			log.WithError(err).Fatal("cloudinary init")
		}
	}

	store := NewStore(logConfirmer{log: log})
	if doc, ok, err := persist.LoadPage(context.Background()); err != nil {
		log.WithError(err).Fatal("load published page")
	} else if ok {
		store.Load(doc)
		log.WithField("items", len(doc.Items)).Info("resumed from published page")
	}

	dispatcher := NewDispatcher(storage, log)
	a := newApp(cfg, log, store, dispatcher, persist, devAssets)

	mux := http.NewServeMux()
	a.routes(mux)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.WithField("addr", cfg.ListenAddr).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("shutdown")
	}
}

// registerTiDBTLS loads the CA bundle for TiDB Cloud DSNs, falling back to
// InsecureSkipVerify when the certs can't be read or parsed.
func registerTiDBTLS(caPath string, log *logrus.Logger) {
	if caPath == "" {
		caPath = "/etc/ssl/certs/ca-certificates.crt"
	}
	pool := x509.NewCertPool()
	b, err := os.ReadFile(caPath)
	if err != nil {
		log.WithError(err).Warnf("could not read CA file %s, falling back to InsecureSkipVerify", caPath)
		_ = mysql.RegisterTLSConfig("tidb", &tls.Config{InsecureSkipVerify: true})
		return
	}
	if !pool.AppendCertsFromPEM(b) {
		log.Warnf("could not parse CA file %s, falling back to InsecureSkipVerify", caPath)
		_ = mysql.RegisterTLSConfig("tidb", &tls.Config{InsecureSkipVerify: true})
		return
	}
	_ = mysql.RegisterTLSConfig("tidb", &tls.Config{RootCAs: pool})
}

// logConfirmer surfaces the destructive-delete prompt. Over HTTP the
// actual yes/no arrives on the confirm/cancel endpoints; this collaborator
// just records that a prompt is up.
type logConfirmer struct {
	log *logrus.Logger
}

func (c logConfirmer) ConfirmRemoval(item Item) {
	c.log.WithFields(logrus.Fields{"id": item.ID, "kind": item.Kind}).Info("removal pending confirmation")
}
