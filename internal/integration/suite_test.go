// Package integration runs the gateway in-process and drives it with a
// third-party S3 client.
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/piwi3910/s3gateway/internal/config"
	"github.com/piwi3910/s3gateway/internal/server"
)

// IntegrationTestSuite is the base test suite for integration tests.
type IntegrationTestSuite struct {
	suite.Suite
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan error
	client   *minio.Client
	dataDir  string
	adminURL string
	s3Addr   string
}

// SetupSuite starts a gateway on free ports and connects a client to it.
func (s *IntegrationTestSuite) SetupSuite() {
	var err error

	s.dataDir, err = os.MkdirTemp("", "s3gateway-integration-*")
	require.NoError(s.T(), err)

	cfg, err := config.Load("", config.Options{
		DataDir:   s.dataDir,
		Backend:   getEnvOrDefault("S3GATEWAY_TEST_BACKEND", config.BackendMemory),
		S3Port:    freePort(s.T()),
		AdminPort: freePort(s.T()),
	})
	require.NoError(s.T(), err)

	cfg.Loops.Count = 2
	cfg.ShutdownTimeout = 5 * time.Second

	srv, err := server.New(cfg)
	require.NoError(s.T(), err)

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.done = make(chan error, 1)

	go func() {
		s.done <- srv.Start(s.ctx)
	}()

	s.s3Addr = fmt.Sprintf("127.0.0.1:%d", cfg.S3Port)
	s.adminURL = fmt.Sprintf("http://127.0.0.1:%d", cfg.AdminPort)

	require.Eventually(s.T(), func() bool {
		resp, err := http.Get(s.adminURL + "/health/ready") // #nosec G107 - test URL
		if err != nil {
			return false
		}
		_ = resp.Body.Close()

		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond, "gateway did not become ready")

	// The gateway does not authenticate, so requests go out unsigned.
	s.client, err = minio.New(s.s3Addr, &minio.Options{
		Creds:        credentials.NewStatic("", "", "", credentials.SignatureAnonymous),
		Secure:       false,
		Region:       cfg.Region,
		BucketLookup: minio.BucketLookupPath,
	})
	require.NoError(s.T(), err)
}

// TearDownSuite stops the gateway and removes its data.
func (s *IntegrationTestSuite) TearDownSuite() {
	s.cancel()

	select {
	case err := <-s.done:
		s.NoError(err)
	case <-time.After(10 * time.Second):
		s.Fail("gateway did not stop")
	}

	if s.dataDir != "" {
		_ = os.RemoveAll(s.dataDir)
	}
}

func (s *IntegrationTestSuite) adminJSON(path string, v any) int {
	resp, err := http.Get(s.adminURL + path) // #nosec G107 - test URL
	s.Require().NoError(err)

	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusOK && v != nil {
		s.Require().NoError(json.NewDecoder(resp.Body).Decode(v))
	}

	return resp.StatusCode
}

func freePort(t *testing.T) int {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	return port
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	return defaultValue
}

// TestIntegrationSuite runs the integration test suite.
func TestIntegrationSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration tests in short mode")
	}

	suite.Run(t, new(IntegrationTestSuite))
}
