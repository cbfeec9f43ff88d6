package handler

import (
	"context"
	"net"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pesio-ai/be-re-case-workflow/internal/authz"
	"github.com/pesio-ai/be-re-case-workflow/internal/checklist"
	"github.com/pesio-ai/be-re-case-workflow/internal/claimfinance"
	"github.com/pesio-ai/be-re-case-workflow/internal/errors"
	"github.com/pesio-ai/be-re-case-workflow/internal/service"
)

func dialWorkflowService(t *testing.T, s *testServer) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.UnaryInterceptor(UnaryLogger(zerolog.Nop())))
	RegisterWorkflowServiceServer(srv, NewGRPCHandler(s.cases, s.claims, zerolog.Nop(), true))
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func invoke(ctx context.Context, conn *grpc.ClientConn, method string, in map[string]any) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(in)
	if err != nil {
		return nil, err
	}
	out := &structpb.Struct{}
	err = conn.Invoke(ctx, "/"+WorkflowServiceName+"/"+method, req, out)
	return out, err
}

func asActor(a *authz.Actor) context.Context {
	return metadata.AppendToOutgoingContext(context.Background(),
		strings.ToLower(authz.HeaderUserID), a.ID,
		strings.ToLower(authz.HeaderUserRoles), strings.Join(a.Roles, ","),
	)
}

func TestGRPCApprovalFlow(t *testing.T) {
	s := newTestServer(t)
	conn := dialWorkflowService(t, s)
	ctx := context.Background()

	c, err := s.cases.CreateCase(ctx, &service.CreateCaseRequest{
		Attributes:   checklist.Attributes{CaseName: "Treaty", Cedant: "Acme"},
		TemplateName: "no_checklist",
		Actor:        *uw,
	})
	if err != nil {
		t.Fatal(err)
	}

	out, err := invoke(ctx, conn, "GetCase", map[string]any{"id": c.ID})
	if err != nil {
		t.Fatalf("GetCase: %v", err)
	}
	if got := out.GetFields()["status"].GetStringValue(); got != string(checklist.CaseStatusReady) {
		t.Errorf("status = %q", got)
	}

	_, err = invoke(ctx, conn, "ApproveOperations", map[string]any{"caseId": c.ID})
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("approve without actor: %v", err)
	}
	_, err = invoke(asActor(uw), conn, "ApproveOperations", map[string]any{"caseId": c.ID})
	if status.Code(err) != codes.PermissionDenied {
		t.Fatalf("approve by underwriter: %v", err)
	}

	out, err = invoke(asActor(senior), conn, "ApproveOperations", map[string]any{"caseId": c.ID, "comment": "ok"})
	if err != nil {
		t.Fatalf("ApproveOperations: %v", err)
	}
	if got := out.GetFields()["operationsApprovalStatus"].GetStringValue(); got != string(checklist.ApprovalApproved) {
		t.Errorf("approval status = %q", got)
	}

	_, err = invoke(asActor(senior), conn, "RejectOperations", map[string]any{"caseId": c.ID, "comment": "late"})
	if status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("reject after approval: %v", err)
	}

	_, err = invoke(ctx, conn, "GetCase", map[string]any{})
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("missing id: %v", err)
	}
	_, err = invoke(ctx, conn, "GetCase", map[string]any{"id": "missing"})
	if status.Code(err) != codes.NotFound {
		t.Fatalf("unknown case: %v", err)
	}
}

func TestGRPCFinanceStatus(t *testing.T) {
	s := newTestServer(t)
	conn := dialWorkflowService(t, s)
	ctx := context.Background()

	doc, err := s.claims.CreateClaimDocument(ctx, &service.CreateClaimDocumentRequest{
		Attributes: claimfinance.Attributes{ClaimNumber: "CLM-7", ContractNumber: "TTY-7", UnderwritingYear: 2024},
		Actor:      *finance,
	})
	if err != nil {
		t.Fatal(err)
	}

	_, err = invoke(asActor(finance), conn, "ChangeFinanceStatus", map[string]any{
		"documentId": doc.ID, "financeStatusId": "fs-allocated", "mainStatus": "COMPLETED",
	})
	if status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("skip: %v", err)
	}

	out, err := invoke(asActor(finance), conn, "ChangeFinanceStatus", map[string]any{
		"documentId": doc.ID, "financeStatusId": "fs-payment-initiated", "mainStatus": "PROCESSING_PAYMENT",
	})
	if err != nil {
		t.Fatalf("ChangeFinanceStatus: %v", err)
	}
	if got := out.GetFields()["mainStatus"].GetStringValue(); got != string(claimfinance.MainStatusProcessingPayment) {
		t.Errorf("main status = %q", got)
	}

	out, err = invoke(ctx, conn, "ListFinanceStatuses", map[string]any{})
	if err != nil {
		t.Fatal(err)
	}
	if n := len(out.GetFields()["financeStatuses"].GetListValue().GetValues()); n != len(claimfinance.DefaultCatalog()) {
		t.Errorf("listed %d statuses", n)
	}
}

func TestMapErrorToGRPC(t *testing.T) {
	tests := []struct {
		err  error
		code codes.Code
	}{
		{errors.NotFound("case", "x"), codes.NotFound},
		{errors.InvalidInput("comment", "required"), codes.InvalidArgument},
		{errors.Unauthorized("no"), codes.PermissionDenied},
		{errors.IllegalTransition("A", "B"), codes.FailedPrecondition},
		{errors.Conflict("busy"), codes.Aborted},
		{context.DeadlineExceeded, codes.Internal},
	}
	for _, tt := range tests {
		if got := status.Code(mapErrorToGRPC(tt.err)); got != tt.code {
			t.Errorf("%v: got %s, want %s", tt.err, got, tt.code)
		}
	}
	if mapErrorToGRPC(nil) != nil {
		t.Error("nil error must stay nil")
	}
}
