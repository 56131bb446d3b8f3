// Package notify publishes pending-handoff alerts over NATS so external
// notifiers (desktop alerting, on-call bots) can react when the queue grows.
// Publishing is fire-and-forget core NATS; losing an alert only means the
// next poll fires another one.
package notify

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/chatdesk/handoff-console/internal/model"
	"github.com/chatdesk/handoff-console/pkg/logger"
)

// SubjectPendingAlert is the subject for pending-queue growth alerts.
const SubjectPendingAlert = "handoff.pending"

// Config holds NATS connection configuration.
type Config struct {
	URL      string
	CAFile   string
	CertFile string
	KeyFile  string
	Token    string
}

// PendingAlert is the event published when the pending queue grows.
type PendingAlert struct {
	SessionIDs   []int64   `json:"session_ids"`
	PendingCount int       `json:"pending_count"`
	At           time.Time `json:"at"`
}

// Notifier wraps a NATS connection for alert publishing.
type Notifier struct {
	conn   *nats.Conn
	logger *logger.Logger
}

// Connect establishes a connection to the NATS server.
func Connect(cfg Config, log *logger.Logger) (*Notifier, error) {
	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error("NATS error", zap.Error(err))
		}),
	}

	if cfg.CAFile != "" && cfg.CertFile != "" && cfg.KeyFile != "" {
		tlsConfig, err := createTLSConfig(cfg.CAFile, cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
		opts = append(opts, nats.Secure(tlsConfig))
	}

	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &Notifier{
		conn:   nc,
		logger: log,
	}, nil
}

// PublishPendingAlert publishes a pending-queue growth alert.
func (n *Notifier) PublishPendingAlert(added []model.ConversationSession, total int) {
	ids := make([]int64, len(added))
	for i, s := range added {
		ids[i] = s.SessionID
	}

	data, err := json.Marshal(PendingAlert{
		SessionIDs:   ids,
		PendingCount: total,
		At:           time.Now(),
	})
	if err != nil {
		n.logger.Error("failed to encode pending alert", zap.Error(err))
		return
	}

	if err := n.conn.Publish(SubjectPendingAlert, data); err != nil {
		n.logger.Warn("failed to publish pending alert", zap.Error(err))
	}
}

// IsConnected returns true if connected to NATS.
func (n *Notifier) IsConnected() bool {
	return n.conn != nil && n.conn.IsConnected()
}

// Close closes the NATS connection.
func (n *Notifier) Close() {
	if n.conn != nil {
		n.conn.Close()
	}
}

func createTLSConfig(caFile, certFile, keyFile string) (*tls.Config, error) {
	caCert, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA file: %w", err)
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to parse CA certificate")
	}

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load client cert: %w", err)
	}

	return &tls.Config{
		RootCAs:      caCertPool,
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}
