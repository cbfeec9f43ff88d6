package handler

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pesio-ai/be-re-case-workflow/internal/authz"
	"github.com/pesio-ai/be-re-case-workflow/internal/checklist"
	"github.com/pesio-ai/be-re-case-workflow/internal/errors"
	"github.com/pesio-ai/be-re-case-workflow/internal/service"
)

// WorkflowServiceName is the fully qualified gRPC service name.
const WorkflowServiceName = "reinsurance.workflow.v1.WorkflowService"

// WorkflowServiceServer is the gRPC contract. Requests and responses are
// google.protobuf.Struct documents using the same field names as the HTTP API.
type WorkflowServiceServer interface {
	GetCase(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ApproveOperations(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RevokeApproval(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RejectOperations(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetClaimDocument(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ChangeFinanceStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListFinanceStatuses(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var workflowServiceDesc = grpc.ServiceDesc{
	ServiceName: WorkflowServiceName,
	HandlerType: (*WorkflowServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetCase", Handler: unaryHandler("GetCase", WorkflowServiceServer.GetCase)},
		{MethodName: "ApproveOperations", Handler: unaryHandler("ApproveOperations", WorkflowServiceServer.ApproveOperations)},
		{MethodName: "RevokeApproval", Handler: unaryHandler("RevokeApproval", WorkflowServiceServer.RevokeApproval)},
		{MethodName: "RejectOperations", Handler: unaryHandler("RejectOperations", WorkflowServiceServer.RejectOperations)},
		{MethodName: "GetClaimDocument", Handler: unaryHandler("GetClaimDocument", WorkflowServiceServer.GetClaimDocument)},
		{MethodName: "ChangeFinanceStatus", Handler: unaryHandler("ChangeFinanceStatus", WorkflowServiceServer.ChangeFinanceStatus)},
		{MethodName: "ListFinanceStatuses", Handler: unaryHandler("ListFinanceStatuses", WorkflowServiceServer.ListFinanceStatuses)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "reinsurance/workflow/v1/workflow.proto",
}

// RegisterWorkflowServiceServer registers srv on s.
func RegisterWorkflowServiceServer(s grpc.ServiceRegistrar, srv WorkflowServiceServer) {
	s.RegisterService(&workflowServiceDesc, srv)
}

func unaryHandler(method string, call func(WorkflowServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(WorkflowServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/" + WorkflowServiceName + "/" + method,
		}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(WorkflowServiceServer), ctx, req.(*structpb.Struct))
		})
	}
}

// GRPCHandler implements WorkflowServiceServer
type GRPCHandler struct {
	cases        *service.CaseService
	claims       *service.ClaimFinanceService
	logger       zerolog.Logger
	trustHeaders bool
}

// NewGRPCHandler creates a new gRPC handler
func NewGRPCHandler(cases *service.CaseService, claims *service.ClaimFinanceService, logger zerolog.Logger, trustHeaders bool) *GRPCHandler {
	return &GRPCHandler{
		cases:        cases,
		claims:       claims,
		logger:       logger,
		trustHeaders: trustHeaders,
	}
}

// UnaryLogger logs every unary call with its status code.
func UnaryLogger(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		code := status.Code(err)
		evt := logger.Info()
		if code == codes.Internal || code == codes.Unknown {
			evt = logger.Error().Err(err)
		}
		evt.
			Str("method", info.FullMethod).
			Str("code", code.String()).
			Dur("duration", time.Since(start)).
			Msg("gRPC request")
		return resp, err
	}
}

// GetCase returns a case by "id".
func (h *GRPCHandler) GetCase(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := requiredField(req, "id")
	if err != nil {
		return nil, err
	}
	c, err := h.cases.GetCase(ctx, id)
	if err != nil {
		return nil, h.fail(ctx, err)
	}
	return toStruct(c)
}

// ApproveOperations approves the operations section of case "caseId".
func (h *GRPCHandler) ApproveOperations(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return h.approval(ctx, req, h.cases.ApproveOperations)
}

// RevokeApproval revokes the operations approval of case "caseId".
func (h *GRPCHandler) RevokeApproval(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return h.approval(ctx, req, h.cases.RevokeApproval)
}

// RejectOperations rejects the operations section of case "caseId".
func (h *GRPCHandler) RejectOperations(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return h.approval(ctx, req, h.cases.RejectOperations)
}

func (h *GRPCHandler) approval(ctx context.Context, req *structpb.Struct, call func(context.Context, *service.ApprovalRequest) (*checklist.Case, error)) (*structpb.Struct, error) {
	actor, err := h.actor(ctx)
	if err != nil {
		return nil, err
	}
	caseID, err := requiredField(req, "caseId")
	if err != nil {
		return nil, err
	}
	c, err := call(ctx, &service.ApprovalRequest{
		CaseID:  caseID,
		Comment: stringField(req, "comment"),
		Actor:   actor,
	})
	if err != nil {
		return nil, h.fail(ctx, err)
	}
	return toStruct(c)
}

// GetClaimDocument returns a claim document by "id".
func (h *GRPCHandler) GetClaimDocument(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := requiredField(req, "id")
	if err != nil {
		return nil, err
	}
	doc, err := h.claims.GetClaimDocument(ctx, id)
	if err != nil {
		return nil, h.fail(ctx, err)
	}
	return toStruct(doc)
}

// ChangeFinanceStatus applies "financeStatusId", optional "mainStatus" and
// "comment" to document "documentId".
func (h *GRPCHandler) ChangeFinanceStatus(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor, err := h.actor(ctx)
	if err != nil {
		return nil, err
	}
	docID, err := requiredField(req, "documentId")
	if err != nil {
		return nil, err
	}
	doc, err := h.claims.ChangeFinanceStatus(ctx, &service.ChangeFinanceStatusRequest{
		DocumentID:      docID,
		FinanceStatusID: stringField(req, "financeStatusId"),
		MainStatus:      stringField(req, "mainStatus"),
		Comment:         stringField(req, "comment"),
		Actor:           actor,
	})
	if err != nil {
		return nil, h.fail(ctx, err)
	}
	return toStruct(doc)
}

// ListFinanceStatuses returns {"financeStatuses": [...]}.
func (h *GRPCHandler) ListFinanceStatuses(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	statuses, err := h.claims.ListFinanceStatuses(ctx)
	if err != nil {
		return nil, h.fail(ctx, err)
	}
	return toStruct(map[string]any{"financeStatuses": statuses})
}

func (h *GRPCHandler) actor(ctx context.Context) (authz.Actor, error) {
	a, err := authz.FromGRPCContext(ctx, h.trustHeaders)
	if err != nil {
		return authz.Actor{}, status.Error(codes.Unauthenticated, "authentication required")
	}
	return a, nil
}

// fail converts a service error, logging infrastructure failures with their cause.
func (h *GRPCHandler) fail(ctx context.Context, err error) error {
	if errors.CodeOf(err) == errors.ErrCodeInternal {
		method, _ := grpc.Method(ctx)
		h.logger.Error().Err(err).Str("method", method).Msg("gRPC call failed")
	}
	return mapErrorToGRPC(err)
}

func stringField(req *structpb.Struct, key string) string {
	return strings.TrimSpace(req.GetFields()[key].GetStringValue())
}

func requiredField(req *structpb.Struct, key string) (string, error) {
	v := stringField(req, key)
	if v == "" {
		return "", status.Errorf(codes.InvalidArgument, "%s is required", key)
	}
	return v, nil
}

// toStruct renders v through its JSON form so gRPC and HTTP share field names.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

func mapErrorToGRPC(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	var e *errors.Error
	if errors.As(err, &e) {
		msg = e.Message
	}

	switch errors.CodeOf(err) {
	case errors.ErrCodeNotFound:
		return status.Error(codes.NotFound, msg)
	case errors.ErrCodeInvalidInput:
		return status.Error(codes.InvalidArgument, msg)
	case errors.ErrCodeUnauthorized:
		return status.Error(codes.PermissionDenied, msg)
	case errors.ErrCodeIllegalTransition:
		return status.Error(codes.FailedPrecondition, msg)
	case errors.ErrCodeConflict:
		return status.Error(codes.Aborted, msg)
	default:
		return status.Error(codes.Internal, msg)
	}
}
