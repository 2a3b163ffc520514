package http

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"lending-pool/internal/adapter/middleware"
	domain "lending-pool/internal/domain/pool"
	pooluc "lending-pool/internal/usecase/pool"

	"github.com/ethereum/go-ethereum/common"
	"github.com/labstack/echo/v4"
)

const defaultEventLimit = 100

// PoolHandler serves the pool routes. Mutating requests are executed one
// at a time so concurrent clients queue instead of tripping the usecase
// re-entrancy guard.
type PoolHandler struct {
	uc *pooluc.Usecase
	mu sync.Mutex
}

func NewPoolHandler(uc *pooluc.Usecase) *PoolHandler { return &PoolHandler{uc: uc} }

// Register mounts every pool route on g. Mutating routes expect the
// idempotency middleware to run first.
func (h *PoolHandler) Register(g *echo.Group) {
	g.POST("", h.Deploy)
	g.GET("/:pool_id", h.GetPool)
	g.GET("/:pool_id/investors", h.ListInvestors)
	g.GET("/:pool_id/investors/:address", h.GetInvestor)
	g.GET("/:pool_id/events", h.ListEvents)

	g.POST("/:pool_id/fund", h.Fund)
	g.POST("/:pool_id/activate", h.callerOp(h.uc.Activate))
	g.POST("/:pool_id/repay", h.callerOp(h.uc.Repay))
	g.POST("/:pool_id/early-repay", h.callerOp(h.uc.EarlyRepay))
	g.POST("/:pool_id/claim", h.callerOp(h.uc.Claim))
	g.POST("/:pool_id/refund", h.callerOp(h.uc.Refund))
	g.POST("/:pool_id/sync", h.Sync)
	g.POST("/:pool_id/native", h.Native)

	g.POST("/:pool_id/admin/close-funding", h.callerOp(h.uc.CloseFundingEarly))
	g.POST("/:pool_id/admin/stop-funding", h.callerOp(h.uc.StopFunding))
	g.POST("/:pool_id/admin/reassign", h.Reassign)
}

type deployReq struct {
	Borrower       string `json:"borrower"        validate:"required,eth_addr"`
	EscrowAdmin    string `json:"escrow_admin"    validate:"required,eth_addr"`
	FundingAsset   string `json:"funding_asset"   validate:"required,eth_addr"`
	ProtocolWallet string `json:"protocol_wallet" validate:"required,eth_addr"`
	ReserveFund    string `json:"reserve_fund"    validate:"required,eth_addr"`

	AmountNeeded    string    `json:"amount_needed"     validate:"required,amount"`
	BorrowerRateBps uint64    `json:"borrower_rate_bps" validate:"required,gtfield=PlatformRateBps,lte=1000000"`
	PlatformRateBps uint64    `json:"platform_rate_bps"`
	TermMonths      uint64    `json:"term_months"       validate:"required,gte=1,lte=1200"`
	FundingDeadline time.Time `json:"funding_deadline"  validate:"required"`
	SetupFee        string    `json:"setup_fee"         validate:"omitempty,uint256"`

	ComplianceRequired bool   `json:"compliance_required"`
	ComplianceRegistry string `json:"compliance_registry" validate:"required_if=ComplianceRequired true,omitempty,eth_addr"`
	ComplianceCategory string `json:"compliance_category" validate:"required_if=ComplianceRequired true"`

	LoanDetailsURI string `json:"loan_details_uri" validate:"omitempty,uri"`
	AgreementURI   string `json:"agreement_uri"    validate:"omitempty,uri"`
}

func (r deployReq) params() domain.Params {
	amount, _ := parseAmount(r.AmountNeeded)
	fee, err := parseAmount(r.SetupFee)
	if err != nil {
		fee = nil
	}
	p := domain.Params{
		Roles: domain.Roles{
			Borrower:       common.HexToAddress(r.Borrower),
			EscrowAdmin:    common.HexToAddress(r.EscrowAdmin),
			FundingAsset:   common.HexToAddress(r.FundingAsset),
			ProtocolWallet: common.HexToAddress(r.ProtocolWallet),
			ReserveFund:    common.HexToAddress(r.ReserveFund),
		},
		Terms: domain.Terms{
			AmountNeeded:    amount,
			BorrowerRateBps: r.BorrowerRateBps,
			PlatformRateBps: r.PlatformRateBps,
			TermMonths:      r.TermMonths,
			FundingDeadline: r.FundingDeadline.UTC(),
			SetupFee:        fee,
		},
		Compliance: domain.Compliance{
			Required: r.ComplianceRequired,
			Category: r.ComplianceCategory,
		},
		Metadata: domain.Metadata{
			LoanDetailsURI: r.LoanDetailsURI,
			AgreementURI:   r.AgreementURI,
		},
	}
	if r.ComplianceRegistry != "" {
		p.Compliance.Registry = common.HexToAddress(r.ComplianceRegistry)
	}
	return p
}

type fundReq struct {
	Amount string `json:"amount" validate:"required,amount"`
}

type reassignReq struct {
	OldInvestor string `json:"old_investor" validate:"required,eth_addr"`
	NewInvestor string `json:"new_investor" validate:"required,eth_addr"`
}

func (h *PoolHandler) Deploy(c echo.Context) error {
	var req deployReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}
	if err := c.Validate(&req); err != nil {
		return validationFailed(c, err)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	dto, err := h.uc.Deploy(c.Request().Context(), req.params(), middleware.OpTime(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, dto)
}

func (h *PoolHandler) GetPool(c echo.Context) error {
	poolID, ok := poolIDParam(c)
	if !ok {
		return badPoolID(c)
	}
	dto, err := h.uc.Get(c.Request().Context(), poolID, middleware.OpTime(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, dto)
}

func (h *PoolHandler) ListInvestors(c echo.Context) error {
	poolID, ok := poolIDParam(c)
	if !ok {
		return badPoolID(c)
	}
	list, err := h.uc.Investors(c.Request().Context(), poolID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"investors": list})
}

func (h *PoolHandler) GetInvestor(c echo.Context) error {
	poolID, ok := poolIDParam(c)
	if !ok {
		return badPoolID(c)
	}
	raw := c.Param("address")
	if !common.IsHexAddress(raw) {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid investor address"})
	}
	dto, err := h.uc.Investor(c.Request().Context(), poolID, common.HexToAddress(raw))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, dto)
}

func (h *PoolHandler) ListEvents(c echo.Context) error {
	poolID, ok := poolIDParam(c)
	if !ok {
		return badPoolID(c)
	}
	limit := defaultEventLimit
	if s := c.QueryParam("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > 1000 {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be 1..1000"})
		}
		limit = n
	}
	list, err := h.uc.Events(c.Request().Context(), poolID, limit)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"events": list})
}

func (h *PoolHandler) Fund(c echo.Context) error {
	poolID, ok := poolIDParam(c)
	if !ok {
		return badPoolID(c)
	}
	investor, ok := callerFrom(c)
	if !ok {
		return badCaller(c)
	}
	var req fundReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}
	if err := c.Validate(&req); err != nil {
		return validationFailed(c, err)
	}
	amount, _ := parseAmount(req.Amount)

	h.mu.Lock()
	defer h.mu.Unlock()
	res, err := h.uc.Fund(c.Request().Context(), poolID, investor, amount, middleware.OpTime(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

type callerFunc func(ctx context.Context, poolID string, caller common.Address, now time.Time) (*pooluc.OperationResult, error)

// callerOp adapts a usecase operation that takes only the caller.
func (h *PoolHandler) callerOp(op callerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		poolID, ok := poolIDParam(c)
		if !ok {
			return badPoolID(c)
		}
		caller, ok := callerFrom(c)
		if !ok {
			return badCaller(c)
		}
		h.mu.Lock()
		defer h.mu.Unlock()
		res, err := op(c.Request().Context(), poolID, caller, middleware.OpTime(c))
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, res)
	}
}

func (h *PoolHandler) Sync(c echo.Context) error {
	poolID, ok := poolIDParam(c)
	if !ok {
		return badPoolID(c)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	res, err := h.uc.Sync(c.Request().Context(), poolID, middleware.OpTime(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *PoolHandler) Reassign(c echo.Context) error {
	poolID, ok := poolIDParam(c)
	if !ok {
		return badPoolID(c)
	}
	caller, ok := callerFrom(c)
	if !ok {
		return badCaller(c)
	}
	var req reassignReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}
	if err := c.Validate(&req); err != nil {
		return validationFailed(c, err)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	res, err := h.uc.ReassignInvestor(c.Request().Context(), poolID, caller,
		common.HexToAddress(req.OldInvestor), common.HexToAddress(req.NewInvestor), middleware.OpTime(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// Native rejects any attempt to send native currency to a pool.
func (h *PoolHandler) Native(c echo.Context) error {
	poolID, ok := poolIDParam(c)
	if !ok {
		return badPoolID(c)
	}
	return writeError(c, h.uc.RejectNative(poolID))
}

func poolIDParam(c echo.Context) (string, bool) {
	id := c.Param("pool_id")
	return id, reHex32.MatchString(id)
}

// callerFrom prefers the identity validated by the idempotency middleware
// and falls back to the raw header.
func callerFrom(c echo.Context) (common.Address, bool) {
	if a, ok := middleware.Caller(c); ok {
		return a, true
	}
	raw := strings.TrimSpace(c.Request().Header.Get(middleware.HeaderCaller))
	if !common.IsHexAddress(raw) {
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func badPoolID(c echo.Context) error {
	return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "pool_id must be 32-char lowercase hex"})
}

func badCaller(c echo.Context) error {
	return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "missing or invalid " + middleware.HeaderCaller})
}

func validationFailed(c echo.Context, err error) error {
	return c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
		Error:   "validation failed",
		Details: ToFieldErrors(err),
	})
}
