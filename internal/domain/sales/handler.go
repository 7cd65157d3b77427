package sales

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/hms/portal/internal/platform/auth"
	"github.com/hms/portal/internal/platform/commerce"
	"github.com/hms/portal/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	role := auth.RequireRole("cashier", "pharmacist")

	g := api.Group("/sales", role)
	g.GET("/cart", h.GetCart)
	g.POST("/cart", h.StartSale)
	g.POST("/cart/lines", h.AddLine)
	g.PATCH("/cart/lines/:id", h.UpdateLine)
	g.DELETE("/cart/lines/:id", h.RemoveLine)
	g.POST("/checkout", h.Checkout)
	g.POST("/payment", h.Pay)
	g.GET("/events", h.ListEvents)
}

type startSaleRequest struct {
	PatientID string `json:"patient_id"`
	VisitID   string `json:"visit_id"`
	Customer  string `json:"customer"`
	Currency  string `json:"currency"`
}

type addLineRequest struct {
	ArticleID string `json:"article_id"`
	Quantity  int    `json:"quantity"`
}

type updateLineRequest struct {
	Quantity int `json:"quantity"`
}

type checkoutRequest struct {
	Reference string `json:"reference"`
}

type checkoutResponse struct {
	FactureID int64    `json:"facture_id"`
	State     Snapshot `json:"state"`
}

type paymentRequest struct {
	Amount    int64  `json:"amount"`
	Mode      string `json:"mode"`
	Reference string `json:"reference"`
}

// workflow resolves the session's workflow, rejecting requests that carry no
// established session.
func (h *Handler) workflow(c echo.Context) (*Workflow, error) {
	sessionID := auth.SessionIDFromContext(c.Request().Context())
	if sessionID == "" {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "no session established")
	}
	return h.svc.Workflow(c.Request().Context(), sessionID), nil
}

func (h *Handler) GetCart(c echo.Context) error {
	wf, err := h.workflow(c)
	if err != nil {
		return err
	}
	wf.Refresh(c.Request().Context())
	return c.JSON(http.StatusOK, wf.Snapshot())
}

func (h *Handler) StartSale(c echo.Context) error {
	wf, err := h.workflow(c)
	if err != nil {
		return err
	}
	var req startSaleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := wf.StartSale(c.Request().Context(), SaleMeta{
		PatientID: req.PatientID,
		VisitID:   req.VisitID,
		Customer:  req.Customer,
		Currency:  req.Currency,
	}); err != nil {
		return workflowError(err)
	}
	return c.JSON(http.StatusCreated, wf.Snapshot())
}

func (h *Handler) AddLine(c echo.Context) error {
	wf, err := h.workflow(c)
	if err != nil {
		return err
	}
	var req addLineRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.ArticleID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "article_id is required")
	}
	if err := wf.AddLine(c.Request().Context(), req.ArticleID, req.Quantity); err != nil {
		return workflowError(err)
	}
	return c.JSON(http.StatusCreated, wf.Snapshot())
}

func (h *Handler) UpdateLine(c echo.Context) error {
	wf, err := h.workflow(c)
	if err != nil {
		return err
	}
	lineID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid line id")
	}
	var req updateLineRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := wf.SetLineQuantity(c.Request().Context(), lineID, req.Quantity); err != nil {
		return workflowError(err)
	}
	return c.JSON(http.StatusOK, wf.Snapshot())
}

func (h *Handler) RemoveLine(c echo.Context) error {
	wf, err := h.workflow(c)
	if err != nil {
		return err
	}
	lineID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid line id")
	}
	if err := wf.RemoveLine(c.Request().Context(), lineID); err != nil {
		return workflowError(err)
	}
	return c.JSON(http.StatusOK, wf.Snapshot())
}

func (h *Handler) Checkout(c echo.Context) error {
	wf, err := h.workflow(c)
	if err != nil {
		return err
	}
	var req checkoutRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	invoiceID, err := wf.Checkout(c.Request().Context(), req.Reference)
	if err != nil {
		return workflowError(err)
	}
	return c.JSON(http.StatusOK, checkoutResponse{
		FactureID: invoiceID,
		State:     wf.Snapshot(),
	})
}

func (h *Handler) Pay(c echo.Context) error {
	wf, err := h.workflow(c)
	if err != nil {
		return err
	}
	var req paymentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := wf.Pay(c.Request().Context(), req.Amount, req.Mode, req.Reference); err != nil {
		return workflowError(err)
	}
	return c.JSON(http.StatusOK, wf.Snapshot())
}

func (h *Handler) ListEvents(c echo.Context) error {
	sessionID := auth.SessionIDFromContext(c.Request().Context())
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "no session established")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListEvents(c.Request().Context(), sessionID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

// workflowError maps workflow errors to HTTP statuses. Commerce rejections
// pass through with their remote message verbatim.
func workflowError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidQuantity),
		errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidPaymentMode):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrLineNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrCartClosed),
		errors.Is(err, ErrAlreadyInvoiced),
		errors.Is(err, ErrSaleInProgress),
		errors.Is(err, ErrEmptyCart),
		errors.Is(err, ErrNoInvoice),
		errors.Is(err, ErrCheckoutInProgress),
		errors.Is(err, ErrPaymentInProgress):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}

	var apiErr *commerce.APIError
	if errors.As(err, &apiErr) {
		status := http.StatusBadGateway
		if apiErr.Status >= 400 && apiErr.Status < 500 {
			status = apiErr.Status
		}
		return echo.NewHTTPError(status, apiErr.Message)
	}

	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
