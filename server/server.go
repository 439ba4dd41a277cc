package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"
)

// maxBodyBytes bounds the size of an /invoke request body
const maxBodyBytes = 1 << 20

// Server hosts the dispatcher behind HTTP, gRPC or the Lambda runtime
type Server struct {
	config     *Config
	log        *logrus.Logger
	client     *mongo.Client
	dispatcher *Dispatcher
	grpcSrv    *grpc.Server
	httpSrv    *http.Server
}

// NewServer connects to DocumentDB and wires the dispatcher to the configured collections
func NewServer(ctx context.Context, config *Config, log *logrus.Logger) (*Server, error) {
	client, err := NewDocumentDBClient(ctx, config.AWS.Region, &config.AWS.DocumentDB, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create DocumentDB client: %v", err)
	}

	database := client.Database(config.AWS.DocumentDB.DatabaseName)
	blogs := NewDocumentDBCollection(database.Collection(config.AWS.DocumentDB.BlogsCollection))
	comments := NewDocumentDBCollection(database.Collection(config.AWS.DocumentDB.CommentsCollection))

	dispatcher := NewDispatcher(blogs, comments, DispatcherOptions{
		MaxPageSize:     config.Function.MaxPageSize,
		DisableTestData: config.Function.DisableTestData,
		Logger:          log,
	})

	s := newServer(config, log, dispatcher)
	s.client = client
	return s, nil
}

func newServer(config *Config, log *logrus.Logger, dispatcher *Dispatcher) *Server {
	grpcSrv := grpc.NewServer()
	RegisterFunctionServer(grpcSrv, dispatcher)
	reflection.Register(grpcSrv)

	s := &Server{
		config:     config,
		log:        log,
		dispatcher: dispatcher,
		grpcSrv:    grpcSrv,
	}

	s.httpSrv = &http.Server{
		Addr:              fmt.Sprintf(":%d", config.Server.HTTPPort),
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/invoke", s.handleInvoke)
	return mux
}

// Start serves gRPC and HTTP until ctx is cancelled or a listener fails
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.config.Server.GRPCPort)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %v", addr, err)
	}

	errCh := make(chan error, 2)
	go func() {
		s.log.Infof("gRPC server listening on %s", addr)
		if err := s.grpcSrv.Serve(lis); err != nil {
			errCh <- fmt.Errorf("failed to serve gRPC: %v", err)
		}
	}()
	go func() {
		s.log.Infof("HTTP server listening on %s", s.httpSrv.Addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("failed to serve HTTP: %v", err)
		}
	}()

	select {
	case <-ctx.Done():
		s.log.Info("Shutting down")
		return nil
	case err := <-errCh:
		return err
	}
}

// StartLambda hands the dispatcher to the Lambda runtime. It does not return.
func (s *Server) StartLambda() {
	s.log.Info("Starting Lambda handler")
	lambda.Start(s.dispatcher.Handle)
}

// Stop drains both listeners and disconnects from DocumentDB
func (s *Server) Stop(ctx context.Context) {
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.log.Warnf("HTTP shutdown: %v", err)
	}
	s.grpcSrv.GracefulStop()
	if s.client != nil {
		if err := s.client.Disconnect(ctx); err != nil {
			s.log.Warnf("Failed to disconnect from DocumentDB: %v", err)
		}
	}
}

// handleRoot handles the root endpoint
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	fmt.Fprintf(w, "Blog function is running!")
}

// handleHealth handles the health endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// handleInvoke decodes an Event from the body and writes the envelope back.
// The HTTP status mirrors the envelope code.
func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var ev Event
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&ev); err != nil {
		s.writeResponse(w, &Response{Code: CodeBadRequest, Msg: "invalid request", Error: err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), time.Duration(s.config.Function.TimeoutSeconds)*time.Second)
	defer cancel()

	s.writeResponse(w, s.dispatcher.Invoke(ctx, &ev))
}

func (s *Server) writeResponse(w http.ResponseWriter, resp *Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.Code)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Errorf("Failed to write response: %v", err)
	}
}
