package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"TimeMarket/internal/core"
	"TimeMarket/internal/observability"
	"TimeMarket/internal/query"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

// Submitter hands an operation to the core loop and waits for its receipt.
type Submitter interface {
	Submit(ctx context.Context, opType string, payload []byte, caller uuid.UUID) (*core.Receipt, error)
}

// Reader serves the projected read models.
type Reader interface {
	GetSlot(ctx context.Context, slotID uuid.UUID) (*query.SlotView, error)
	GetBalance(ctx context.Context, owner uuid.UUID, asset string) (*query.BalanceView, error)
	GetProfile(ctx context.Context, profileID uuid.UUID) (*query.ProfileView, error)
	Watermark(ctx context.Context) (int64, error)
}

// ServerDeps holds all dependencies needed by the gRPC services.
type ServerDeps struct {
	Submitter     Submitter
	Reader        Reader
	Auth          *Authenticator
	Limiter       *RateLimiter
	HealthChecker *observability.HealthChecker
	Metrics       *observability.Metrics
}

// GRPCServer wraps the gRPC server and the HTTP gateway.
type GRPCServer struct {
	grpcServer    *grpc.Server
	httpServer    *http.Server
	grpcAddr      string
	httpAddr      string
	market        *marketService
	healthChecker *observability.HealthChecker
	logger        zerolog.Logger
}

// NewGRPCServer creates a new gRPC server with all services registered.
func NewGRPCServer(grpcAddr, httpAddr string, deps *ServerDeps) *GRPCServer {
	market := &marketService{deps: deps, logger: observability.NewLogger("market-api")}

	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(
		market.metricsInterceptor,
		market.authInterceptor,
	))
	RegisterMarketServer(grpcServer, market)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	if deps.HealthChecker != nil {
		// The market service is only SERVING once recovery has finished.
		deps.HealthChecker.OnReadyChange(func(ready bool) {
			st := healthpb.HealthCheckResponse_NOT_SERVING
			if ready {
				st = healthpb.HealthCheckResponse_SERVING
			}
			healthServer.SetServingStatus("", st)
			healthServer.SetServingStatus(ServiceName, st)
		})
	} else {
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	}

	// Reflection for grpcurl / grpcui
	reflection.Register(grpcServer)

	return &GRPCServer{
		grpcServer:    grpcServer,
		grpcAddr:      grpcAddr,
		httpAddr:      httpAddr,
		market:        market,
		healthChecker: deps.HealthChecker,
		logger:        observability.NewLogger("server"),
	}
}

// StartGRPC starts the gRPC server (blocking).
func (s *GRPCServer) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	return s.ServeGRPC(ctx, lis)
}

// ServeGRPC serves on an existing listener until ctx is cancelled.
func (s *GRPCServer) ServeGRPC(ctx context.Context, lis net.Listener) error {
	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("gRPC server shutting down")
		s.grpcServer.GracefulStop()
	}()

	s.logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}

// StartHTTPGateway serves the HTTP/JSON surface (blocking).
func (s *GRPCServer) StartHTTPGateway(ctx context.Context) error {
	handler, err := s.HTTPHandler()
	if err != nil {
		return err
	}
	s.httpServer = &http.Server{
		Addr:              s.httpAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("HTTP gateway shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", s.httpAddr).Msg("HTTP gateway listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// marketService implements MarketServer over the core loop and projections.
type marketService struct {
	deps   *ServerDeps
	logger zerolog.Logger
}

func (m *marketService) Submit(ctx context.Context, req *SubmitRequest) (*SubmitResponse, error) {
	if req.OpType == "" {
		return nil, status.Error(codes.InvalidArgument, "op_type is required")
	}
	caller := CallerFrom(ctx)
	allowed, retry, err := m.deps.Limiter.Allow(ctx, rateKey(ctx, caller, req.OpType))
	if err != nil {
		m.logger.Warn().Err(err).Msg("rate limiter unavailable, admitting")
	}
	if !allowed {
		if m.deps.Metrics != nil {
			m.deps.Metrics.RateLimitRejected.WithLabelValues(req.OpType).Inc()
		}
		return nil, status.Errorf(codes.ResourceExhausted, "rate limit exceeded, retry in %s", retry)
	}

	receipt, err := m.deps.Submitter.Submit(ctx, req.OpType, req.Payload, caller)
	if err != nil {
		return nil, toStatus(err)
	}
	return newSubmitResponse(receipt), nil
}

func (m *marketService) GetSlot(ctx context.Context, req *GetSlotRequest) (*query.SlotView, error) {
	id, err := uuid.Parse(req.SlotID)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid slot_id: %v", err)
	}
	v, err := m.deps.Reader.GetSlot(ctx, id)
	return v, toStatus(err)
}

func (m *marketService) GetBalance(ctx context.Context, req *GetBalanceRequest) (*query.BalanceView, error) {
	owner, err := uuid.Parse(req.Owner)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid owner: %v", err)
	}
	if req.Asset == "" {
		return nil, status.Error(codes.InvalidArgument, "asset is required")
	}
	v, err := m.deps.Reader.GetBalance(ctx, owner, req.Asset)
	return v, toStatus(err)
}

func (m *marketService) GetProfile(ctx context.Context, req *GetProfileRequest) (*query.ProfileView, error) {
	id, err := uuid.Parse(req.ProfileID)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid profile_id: %v", err)
	}
	v, err := m.deps.Reader.GetProfile(ctx, id)
	return v, toStatus(err)
}

func (m *marketService) GetSequence(ctx context.Context, _ *GetSequenceRequest) (*GetSequenceResponse, error) {
	seq, err := m.deps.Reader.Watermark(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return &GetSequenceResponse{AsOfSequence: seq}, nil
}

// authInterceptor resolves the bearer token. Only Submit requires one; reads
// are public.
func (m *marketService) authInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if !strings.HasPrefix(info.FullMethod, "/"+ServiceName+"/") || !m.deps.Auth.Enabled() {
		return handler(ctx, req)
	}
	var header string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get("authorization"); len(v) > 0 {
			header = v[0]
		}
	}
	caller, err := m.deps.Auth.Authenticate(header)
	if err != nil {
		if info.FullMethod == "/"+ServiceName+"/Submit" {
			return nil, toStatus(err)
		}
		return handler(ctx, req)
	}
	return handler(withCaller(ctx, caller), req)
}

func (m *marketService) metricsInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	m.observe(methodName(info.FullMethod), status.Code(err), time.Since(start))
	return resp, err
}

func (m *marketService) observe(method string, code codes.Code, took time.Duration) {
	if m.deps.Metrics == nil {
		return
	}
	m.deps.Metrics.GatewayRequests.WithLabelValues(method, code.String()).Inc()
	m.deps.Metrics.GatewayDuration.WithLabelValues(method).Observe(took.Seconds())
}

func methodName(full string) string {
	if i := strings.LastIndexByte(full, '/'); i >= 0 {
		return full[i+1:]
	}
	return full
}

// rateKey buckets authenticated callers by id and anonymous ones by address.
func rateKey(ctx context.Context, caller uuid.UUID, opType string) string {
	who := caller.String()
	if caller == uuid.Nil {
		who = "anon"
		if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
			who = p.Addr.String()
			if host, _, err := net.SplitHostPort(who); err == nil {
				who = host
			}
		}
	}
	return who + ":" + opType
}
