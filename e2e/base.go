package e2e

import (
	"bytes"
	"chat-engine/auth"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gookit/color"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/suite"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

type BaseSuite struct {
	suite.Suite
	Config Config
	client *http.Client
}

// SetupSuite loads the environment configuration. The suite is skipped when
// no running engine is configured.
func (s *BaseSuite) SetupSuite() {
	var err error
	s.Config, err = LoadConfig()
	s.Require().NoError(err)
	if !s.Config.Enabled() {
		s.T().Skip("E2E_HTTP_ADDR, E2E_GRPC_ADDR and E2E_JWT_SECRET are required")
	}
	s.client = &http.Client{Timeout: 10 * time.Second}
}

// Step prints a colorized header for a test step in logs
func (s *BaseSuite) Step(name string) {
	header := fmt.Sprintf("  ====== %s ======", name)
	if s.Config.Colours {
		header = color.New(color.BgBlack, color.FgGreen).Render(header)
	}
	s.T().Log(header)
}

func (s *BaseSuite) Token(userID string) string {
	token, err := auth.NewTokenIssuer(s.Config.JWTSecret, time.Hour).GenerateToken(userID, []string{"user"})
	s.Require().NoError(err)
	return token
}

// Call sends a JSON request as userID, decodes the response into out and
// returns the status code.
func (s *BaseSuite) Call(userID, method, path string, body, out any) int {
	var reader io.Reader
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(raw)
	}
	r, err := http.NewRequest(method, strings.TrimSuffix(s.Config.HTTPAddr, "/")+path, reader)
	s.Require().NoError(err)
	r.Header.Set("Authorization", "Bearer "+s.Token(userID))
	r.Header.Set("Content-Type", "application/json")

	start := time.Now()
	res, err := s.client.Do(r)
	s.Require().NoError(err)
	defer res.Body.Close()
	payload, err := io.ReadAll(res.Body)
	s.Require().NoError(err)

	logBuilder := strings.Builder{}
	fmt.Fprintf(&logBuilder, "HTTP %s %s [%d] in %v", method, path, res.StatusCode, time.Since(start))
	if s.Config.DebugJSON {
		fmt.Fprintf(&logBuilder, "\nREQUEST:\n%s\nRESPONSE:\n%s", raw, payload)
	}
	s.T().Log(logBuilder.String())

	if out != nil && len(payload) > 0 && res.StatusCode < http.StatusBadRequest {
		s.Require().NoError(json.Unmarshal(payload, out))
	}
	return res.StatusCode
}

// Dial opens a stream socket for userID.
func (s *BaseSuite) Dial(userID string) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(strings.TrimSuffix(s.Config.HTTPAddr, "/"), "http") + "/v1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Authorization": {"Bearer " + s.Token(userID)}})
	s.Require().NoError(err, "Failed to open stream at "+url)
	s.T().Cleanup(func() { _ = conn.Close() })
	return conn
}

// Next reads frames until one of the given type arrives.
func (s *BaseSuite) Next(conn *websocket.Conn, frameType string) map[string]any {
	s.Require().NoError(conn.SetReadDeadline(time.Now().Add(5 * time.Second)))
	for {
		var frame map[string]any
		s.Require().NoError(conn.ReadJSON(&frame))
		if frame["type"] == frameType {
			return frame
		}
	}
}

// GrpcConn initializes a gRPC connection with logging, colors, and JSON debugging
func (s *BaseSuite) GrpcConn(t *testing.T, name string, addr string) *grpc.ClientConn {
	s.Step(name)

	marshaler := protojson.MarshalOptions{
		UseProtoNames:   true,
		Multiline:       true,
		EmitUnpopulated: true,
	}

	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
			start := time.Now()
			err := invoker(ctx, method, req, reply, cc, opts...)

			logBuilder := strings.Builder{}
			fmt.Fprintf(&logBuilder, "GRPC %s [%s] in %v", method, status.Code(err), time.Since(start))
			if s.Config.DebugJSON {
				fmt.Fprintln(&logBuilder, "\nREQUEST:")
				fmt.Fprintln(&logBuilder, marshaler.Format(req.(proto.Message)))
				if err != nil {
					fmt.Fprintln(&logBuilder, "ERROR:", err)
				} else {
					fmt.Fprintln(&logBuilder, "RESPONSE:")
					fmt.Fprintln(&logBuilder, marshaler.Format(reply.(proto.Message)))
				}
			}
			t.Log(logBuilder.String())
			return err
		}),
	)
	s.Require().NoError(err, "Failed to connect to gRPC server at "+addr)
	return conn
}
