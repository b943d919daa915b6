// Package server implements the gRPC BudgetService.
// Messages are google.protobuf.Struct values carrying the JSON form of the
// engine's request and response records, so no generated code is needed.
package server

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"

	"github.com/nainya/budgetstore/internal/logger"
	"github.com/nainya/budgetstore/pkg/budget"
	"github.com/nainya/budgetstore/pkg/diff"
	"github.com/nainya/budgetstore/pkg/engine"
	"github.com/nainya/budgetstore/pkg/errs"
	"github.com/nainya/budgetstore/pkg/impact"
	"github.com/nainya/budgetstore/pkg/reconstruct"
	"github.com/nainya/budgetstore/pkg/session"
	"github.com/nainya/budgetstore/pkg/version"
)

// ServiceName is the fully qualified gRPC service name
const ServiceName = "budgetstore.v1.BudgetService"

// Service is the handler type registered with grpc
type Service interface {
	Engine() *engine.Engine
}

// Server implements BudgetService on top of the engine
type Server struct {
	engine    *engine.Engine
	log       *logger.Logger
	startTime time.Time
}

// NewServer creates a new gRPC service instance
func NewServer(e *engine.Engine, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	return &Server{
		engine:    e,
		log:       log,
		startTime: time.Now(),
	}
}

// Engine returns the engine behind the service
func (s *Server) Engine() *engine.Engine {
	return s.engine
}

// Register attaches the service to a gRPC server
func (s *Server) Register(g *grpc.Server) {
	g.RegisterService(&ServiceDesc, s)
}

// ServiceDesc describes BudgetService for grpc.Server.RegisterService
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Service)(nil),
	Methods: []grpc.MethodDesc{
		unary("CreateBudget", (*Server).createBudget),
		unary("GetBudget", (*Server).getBudget),
		unary("ListClientBudgets", (*Server).listClientBudgets),
		unary("ApplyChanges", (*Server).applyChanges),
		unary("TransitionBudget", (*Server).transitionBudget),
		unary("CreateVersion", (*Server).createVersion),
		unary("CreateBranch", (*Server).createBranch),
		unary("MergeVersions", (*Server).mergeVersions),
		unary("MergeBranch", (*Server).mergeBranch),
		unary("CompareVersions", (*Server).compareVersions),
		unary("GetVersionGraph", (*Server).getVersionGraph),
		unary("AnalyzeImpact", (*Server).analyzeImpact),
		unary("ReconstructBudget", (*Server).reconstructBudget),
		unary("SuggestAlternatives", (*Server).suggestAlternatives),
		unary("ReconstructionHistory", (*Server).reconstructionHistory),
		unary("ProcessFeed", (*Server).processFeed),
		unary("StartSession", (*Server).startSession),
		unary("GetSession", (*Server).getSession),
		unary("LockSessionData", (*Server).lockSessionData),
		unary("UnlockSessionData", (*Server).unlockSessionData),
		unary("UpdateSession", (*Server).updateSession),
		unary("CloseSession", (*Server).closeSession),
		unary("PutCatalogItem", (*Server).putCatalogItem),
		unary("Health", (*Server).health),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "budgetstore/v1/budget_service",
}

// ========== Wire messages ==========

type BudgetRequest struct {
	BudgetID string `json:"budget_id"`
}

type ClientRequest struct {
	ClientID string `json:"client_id"`
}

type BudgetList struct {
	Budgets []*budget.Budget `json:"budgets"`
}

type BranchRequest struct {
	BudgetID      string `json:"budget_id"`
	Name          string `json:"name"`
	BaseVersionID string `json:"base_version_id"`
	Author        string `json:"author"`
}

type CompareRequest struct {
	BaseVersionID   string `json:"base_version_id"`
	TargetVersionID string `json:"target_version_id"`
}

type AnalysisResponse struct {
	Results map[string]impact.AnalysisResult `json:"results"`
}

type SuggestRequest struct {
	BudgetID string `json:"budget_id"`
	ItemID   string `json:"item_id"`
	Limit    int    `json:"limit"`
}

type SuggestResponse struct {
	Suggestions []reconstruct.Suggestion `json:"suggestions"`
}

type HistoryResponse struct {
	Entries []engine.ReconstructionEntry `json:"entries"`
}

type FeedRequest struct {
	Updates []engine.FeedUpdate `json:"updates"`
}

type FeedResponse struct {
	Results []engine.FeedResult `json:"results"`
}

type SessionRequest struct {
	BudgetID string `json:"budget_id"`
	SellerID string `json:"seller_id"`
}

type SessionDataRequest struct {
	BudgetID string         `json:"budget_id"`
	SellerID string         `json:"seller_id"`
	Data     map[string]any `json:"data"`
}

type UnlockRequest struct {
	BudgetID string   `json:"budget_id"`
	SellerID string   `json:"seller_id"`
	Fields   []string `json:"fields"`
}

type Ack struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type HealthResponse struct {
	Healthy       bool   `json:"healthy"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// ========== Budget Operations ==========

func (s *Server) createBudget(ctx context.Context, req *engine.CreateBudgetRequest) (*budget.Budget, error) {
	return s.engine.CreateBudget(ctx, *req)
}

func (s *Server) getBudget(ctx context.Context, req *BudgetRequest) (*budget.Budget, error) {
	if req.BudgetID == "" {
		return nil, fmt.Errorf("%w: budget_id is required", errs.ErrInvalidArgument)
	}
	return s.engine.GetBudget(ctx, req.BudgetID)
}

func (s *Server) listClientBudgets(ctx context.Context, req *ClientRequest) (*BudgetList, error) {
	if req.ClientID == "" {
		return nil, fmt.Errorf("%w: client_id is required", errs.ErrInvalidArgument)
	}
	budgets, err := s.engine.ListClientBudgets(ctx, req.ClientID)
	if err != nil {
		return nil, err
	}
	if budgets == nil {
		budgets = []*budget.Budget{}
	}
	return &BudgetList{Budgets: budgets}, nil
}

func (s *Server) applyChanges(ctx context.Context, req *engine.ApplyChangesRequest) (*version.Version, error) {
	return s.engine.ApplyChanges(ctx, *req)
}

func (s *Server) transitionBudget(ctx context.Context, req *engine.TransitionRequest) (*budget.Budget, error) {
	return s.engine.TransitionBudget(ctx, *req)
}

// ========== Version Operations ==========

func (s *Server) createVersion(ctx context.Context, req *version.CreateVersionRequest) (*version.Version, error) {
	return s.engine.CreateVersion(ctx, *req)
}

func (s *Server) createBranch(ctx context.Context, req *BranchRequest) (*version.Branch, error) {
	return s.engine.CreateBranch(ctx, req.BudgetID, req.Name, req.BaseVersionID, req.Author)
}

func (s *Server) mergeVersions(ctx context.Context, req *engine.MergeRequest) (*version.MergeResult, error) {
	return s.engine.MergeVersions(ctx, *req)
}

func (s *Server) mergeBranch(ctx context.Context, req *engine.MergeRequest) (*version.MergeResult, error) {
	if req.BranchID == "" {
		return nil, fmt.Errorf("%w: branch_id is required", errs.ErrInvalidArgument)
	}
	return s.engine.MergeBranch(ctx, req.BranchID, req.TargetID, req.Strategy, req.Author)
}

func (s *Server) compareVersions(ctx context.Context, req *CompareRequest) (*diff.VersionDiff, error) {
	return s.engine.CompareVersions(ctx, req.BaseVersionID, req.TargetVersionID)
}

func (s *Server) getVersionGraph(ctx context.Context, req *BudgetRequest) (*version.VersionGraph, error) {
	return s.engine.GetVersionGraph(ctx, req.BudgetID)
}

// ========== Reconstruction Operations ==========

func (s *Server) analyzeImpact(ctx context.Context, req *engine.AnalyzeRequest) (*AnalysisResponse, error) {
	results, err := s.engine.AnalyzeImpact(ctx, *req)
	if err != nil {
		return nil, err
	}
	return &AnalysisResponse{Results: results}, nil
}

func (s *Server) reconstructBudget(ctx context.Context, req *engine.ReconstructRequest) (*engine.ReconstructResponse, error) {
	return s.engine.ReconstructBudget(ctx, *req)
}

func (s *Server) suggestAlternatives(ctx context.Context, req *SuggestRequest) (*SuggestResponse, error) {
	suggestions, err := s.engine.SuggestAlternatives(ctx, req.BudgetID, req.ItemID, req.Limit)
	if err != nil {
		return nil, err
	}
	return &SuggestResponse{Suggestions: suggestions}, nil
}

func (s *Server) reconstructionHistory(ctx context.Context, req *BudgetRequest) (*HistoryResponse, error) {
	entries, err := s.engine.ReconstructionHistory(ctx, req.BudgetID)
	if err != nil {
		return nil, err
	}
	return &HistoryResponse{Entries: entries}, nil
}

func (s *Server) processFeed(ctx context.Context, req *FeedRequest) (*FeedResponse, error) {
	results, err := s.engine.ProcessFeed(ctx, req.Updates)
	if err != nil {
		return nil, err
	}
	return &FeedResponse{Results: results}, nil
}

// ========== Session Operations ==========

func (s *Server) startSession(ctx context.Context, req *SessionRequest) (*session.Session, error) {
	return s.engine.StartSession(ctx, req.BudgetID, req.SellerID)
}

func (s *Server) getSession(ctx context.Context, req *SessionRequest) (*session.Session, error) {
	sess, ok := s.engine.GetSession(req.BudgetID)
	if !ok {
		return nil, fmt.Errorf("%w: no active session for budget %s", errs.ErrNotFound, req.BudgetID)
	}
	return sess, nil
}

func (s *Server) lockSessionData(ctx context.Context, req *SessionDataRequest) (*Ack, error) {
	if err := s.engine.LockSessionData(ctx, req.BudgetID, req.SellerID, req.Data); err != nil {
		return nil, err
	}
	return &Ack{Success: true, Message: fmt.Sprintf("Locked %d field(s)", len(req.Data))}, nil
}

func (s *Server) unlockSessionData(ctx context.Context, req *UnlockRequest) (*Ack, error) {
	if err := s.engine.UnlockSessionData(ctx, req.BudgetID, req.SellerID, req.Fields...); err != nil {
		return nil, err
	}
	return &Ack{Success: true}, nil
}

func (s *Server) updateSession(ctx context.Context, req *SessionDataRequest) (*Ack, error) {
	if err := s.engine.UpdateSession(ctx, req.BudgetID, req.SellerID, req.Data); err != nil {
		return nil, err
	}
	return &Ack{Success: true}, nil
}

func (s *Server) closeSession(ctx context.Context, req *SessionRequest) (*session.Session, error) {
	return s.engine.CloseSession(ctx, req.BudgetID, req.SellerID)
}

// ========== Catalog & Health ==========

func (s *Server) putCatalogItem(ctx context.Context, req *budget.Item) (*Ack, error) {
	if req.ID == "" {
		return nil, fmt.Errorf("%w: id is required", errs.ErrInvalidArgument)
	}
	if err := s.engine.Catalog().Put(ctx, *req); err != nil {
		return nil, err
	}
	return &Ack{Success: true, Message: fmt.Sprintf("Stored catalog item %s", req.ID)}, nil
}

func (s *Server) health(ctx context.Context, req *struct{}) (*HealthResponse, error) {
	return &HealthResponse{
		Healthy:       true,
		Version:       "1.0.0",
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
	}, nil
}
