package api

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/visitline/internal/apperr"
	"github.com/zulandar/visitline/internal/approval"
	"github.com/zulandar/visitline/internal/models"
	"github.com/zulandar/visitline/internal/route"
	"github.com/zulandar/visitline/internal/wallclock"
)

func (s *server) handleRouteCreate(c *gin.Context) {
	var req route.CreateOpts
	if err := bind(c, &req, false); err != nil {
		s.fail(c, err)
		return
	}
	r, err := s.routes.Create(c.Request.Context(), actorFrom(c), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	created(c, r)
}

func (s *server) handleRouteList(c *gin.Context) {
	actor := actorFrom(c)
	f := route.ListFilters{
		AgentID: c.Query("agentId"),
		Status:  c.Query("status"),
	}
	// Promoters only see their own routes.
	if !actor.Privileged() {
		f.AgentID = actor.ID
	}
	var err error
	if f.Date, err = queryDate(c, "date"); err != nil {
		s.fail(c, err)
		return
	}
	if f.From, err = queryDate(c, "from"); err != nil {
		s.fail(c, err)
		return
	}
	if f.To, err = queryDate(c, "to"); err != nil {
		s.fail(c, err)
		return
	}
	if v := c.Query("templates"); v != "" {
		b, perr := strconv.ParseBool(v)
		if perr != nil {
			s.fail(c, apperr.Validation("templates must be true or false"))
			return
		}
		f.Templates = &b
	}
	routes, err := s.routes.List(c.Request.Context(), f)
	if err != nil {
		s.fail(c, err)
		return
	}
	success(c, routes)
}

func (s *server) handleRouteGet(c *gin.Context) {
	r, err := s.routes.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	actor := actorFrom(c)
	if !actor.Privileged() && !r.HasAgent(actor.ID) {
		s.fail(c, apperr.NotFound("route %s not found", r.ID))
		return
	}
	success(c, r)
}

func (s *server) handleRouteUpdate(c *gin.Context) {
	var req route.UpdateOpts
	if err := bind(c, &req, false); err != nil {
		s.fail(c, err)
		return
	}
	r, err := s.routes.Update(c.Request.Context(), actorFrom(c), c.Param("id"), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	success(c, r)
}

func (s *server) handleRouteDelete(c *gin.Context) {
	if err := s.routes.Remove(c.Request.Context(), actorFrom(c), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	success(c, gin.H{"id": c.Param("id"), "deleted": true})
}

func (s *server) handleRouteDuplicate(c *gin.Context) {
	var req route.DuplicateOpts
	if err := bind(c, &req, false); err != nil {
		s.fail(c, err)
		return
	}
	routes, err := s.routes.Duplicate(c.Request.Context(), actorFrom(c), c.Param("id"), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	created(c, routes)
}

func (s *server) handleItemGet(c *gin.Context) {
	item, err := s.routes.ViewItem(c.Request.Context(), actorFrom(c), c.Param("itemId"))
	if err != nil {
		s.fail(c, err)
		return
	}
	success(c, item)
}

func (s *server) handleCheckIn(c *gin.Context) {
	var req route.CheckInOpts
	if err := bind(c, &req, true); err != nil {
		s.fail(c, err)
		return
	}
	item, err := s.routes.CheckIn(c.Request.Context(), actorFrom(c), c.Param("itemId"), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	success(c, item)
}

func (s *server) handleCheckOut(c *gin.Context) {
	var req route.CheckOutOpts
	if err := bind(c, &req, true); err != nil {
		s.fail(c, err)
		return
	}
	item, err := s.routes.CheckOut(c.Request.Context(), actorFrom(c), c.Param("itemId"), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	success(c, item)
}

type skipRequest struct {
	Reason string `json:"reason"`
}

func (s *server) handleSkip(c *gin.Context) {
	var req skipRequest
	if err := bind(c, &req, false); err != nil {
		s.fail(c, err)
		return
	}
	item, err := s.routes.Skip(c.Request.Context(), actorFrom(c), c.Param("itemId"), req.Reason)
	if err != nil {
		s.fail(c, err)
		return
	}
	success(c, item)
}

func (s *server) handleManual(c *gin.Context) {
	var req route.ManualOpts
	if err := bind(c, &req, false); err != nil {
		s.fail(c, err)
		return
	}
	item, err := s.routes.ManualExecution(c.Request.Context(), actorFrom(c), c.Param("itemId"), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	success(c, item)
}

type productCheckRequest struct {
	route.ProductCheckUpdate
	RequestStockReview bool `json:"requestStockReview"`
}

type productCheckResponse struct {
	Product *models.RouteItemProduct `json:"product"`
	Review  *approval.Review         `json:"review,omitempty"`
}

func (s *server) handleProductCheck(c *gin.Context) {
	var req productCheckRequest
	if err := bind(c, &req, false); err != nil {
		s.fail(c, err)
		return
	}
	var (
		resp productCheckResponse
		err  error
	)
	ctx := c.Request.Context()
	if req.RequestStockReview {
		resp.Product, resp.Review, err = s.routes.ReviewProductCheck(ctx, actorFrom(c), c.Param("itemId"), c.Param("productId"), req.ProductCheckUpdate)
	} else {
		resp.Product, err = s.routes.UpdateProductCheck(ctx, actorFrom(c), c.Param("itemId"), c.Param("productId"), req.ProductCheckUpdate)
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	success(c, resp)
}

// handleStockReview sends a product check's stock count for review. The
// caller must be able to edit the check.
func (s *server) handleStockReview(c *gin.Context) {
	_, rev, err := s.routes.ReviewProductCheck(c.Request.Context(), actorFrom(c), c.Param("itemId"), c.Param("productId"), route.ProductCheckUpdate{})
	if err != nil {
		s.fail(c, err)
		return
	}
	success(c, rev)
}

func (s *server) handleApprovalsPending(c *gin.Context) {
	f := approval.PendingFilters{StoreID: c.Query("storeId"), AgentID: c.Query("agentId")}
	var err error
	if f.Date, err = queryDate(c, "date"); err != nil {
		s.fail(c, err)
		return
	}
	list, err := approval.ListPending(c.Request.Context(), s.db, f)
	if err != nil {
		s.fail(c, err)
		return
	}
	success(c, list)
}

func (s *server) handleApprovalResolve(c *gin.Context) {
	var d approval.Decision
	if err := bind(c, &d, false); err != nil {
		s.fail(c, err)
		return
	}
	d.ResolvedBy = actorFrom(c).ID
	d.At = s.now()
	rip, err := approval.ResolveByID(c.Request.Context(), s.db, c.Param("id"), d)
	if err != nil {
		s.fail(c, err)
		return
	}
	success(c, rip)
}

func (s *server) handleApprovalLookup(c *gin.Context) {
	a, err := approval.Lookup(c.Request.Context(), s.db, c.Param("token"))
	if err != nil {
		s.fail(c, err)
		return
	}
	success(c, a)
}

func (s *server) handleApprovalResolveToken(c *gin.Context) {
	var d approval.Decision
	if err := bind(c, &d, false); err != nil {
		s.fail(c, err)
		return
	}
	d.ResolvedBy = "token"
	d.At = s.now()
	rip, err := approval.Resolve(c.Request.Context(), s.db, c.Param("token"), d)
	if err != nil {
		s.fail(c, err)
		return
	}
	success(c, gin.H{"id": rip.ID, "status": rip.StockCountStatus})
}

func queryDate(c *gin.Context, key string) (*wallclock.Date, error) {
	v := c.Query(key)
	if v == "" {
		return nil, nil
	}
	d, err := wallclock.ParseDate(v)
	if err != nil {
		return nil, apperr.Validation("%s: %v", key, err)
	}
	return &d, nil
}
