package server

import (
	"bloodbooth/internal/models"
	"bloodbooth/internal/service"

	"github.com/gofiber/fiber/v2"
)

// CreateDonationRequestBody is the body of POST /donation-requests.
type CreateDonationRequestBody struct {
	RequesterID string `json:"requesterId" validate:"required,max=64"`
	DonorID     string `json:"donorId" validate:"required,max=64"`
	PaymentRef  string `json:"paymentRef" validate:"omitempty,max=128"`
}

// UpdateDonationRequestBody is the body of PATCH /donation-requests.
type UpdateDonationRequestBody struct {
	RequestID string `json:"requestId" validate:"required"`
	Action    string `json:"action" validate:"required"`
}

// DonationRequestResponse wraps a single request.
type DonationRequestResponse struct {
	DonationRequest *models.DonationRequest `json:"donationRequest"`
}

// DonationRequestListResponse wraps a page of requests.
type DonationRequestListResponse struct {
	DonationRequests []*models.DonationRequest `json:"donationRequests"`
	Limit            int                       `json:"limit"`
	Offset           int                       `json:"offset"`
}

// CreateDonationRequest handles POST /api/donation-requests
// @Summary Create a donation request
// @Description Admits the requester against the rate limit and stores a pending request.
// @Tags donation-requests
// @Accept json
// @Produce json
// @Param request body CreateDonationRequestBody true "Requester and donor"
// @Success 201 {object} DonationRequestResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Failure 429 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /donation-requests [post]
func (s *Server) CreateDonationRequest(c *fiber.Ctx) error {
	var body CreateDonationRequestBody
	if err := bindBody(c, &body, "requesterId and donorId are required"); err != nil {
		return nil
	}

	if caller := callerID(c); caller != "" && caller != body.RequesterID {
		return respondError(c, models.NewForbiddenError("You can only create requests on your own behalf"))
	}

	req, err := s.donationService.Create(c.UserContext(), body.RequesterID, body.DonorID,
		service.WithPaymentRef(body.PaymentRef))
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(DonationRequestResponse{DonationRequest: req})
}

// UpdateDonationRequest handles PATCH /api/donation-requests
// @Summary Apply a lifecycle action
// @Description Applies accept, complete or cancel to an existing request.
// @Tags donation-requests
// @Accept json
// @Produce json
// @Param request body UpdateDonationRequestBody true "Request id and action"
// @Success 200 {object} DonationRequestResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /donation-requests [patch]
func (s *Server) UpdateDonationRequest(c *fiber.Ctx) error {
	var body UpdateDonationRequestBody
	if err := bindBody(c, &body, "requestId and action are required"); err != nil {
		return nil
	}

	req, err := s.donationService.ApplyActionAs(c.UserContext(), callerID(c), body.RequestID, body.Action)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(DonationRequestResponse{DonationRequest: req})
}

// GetDonationRequest handles GET /api/donation-requests/:id
// @Summary Get a donation request
// @Tags donation-requests
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} DonationRequestResponse
// @Failure 403 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /donation-requests/{id} [get]
func (s *Server) GetDonationRequest(c *fiber.Ctx) error {
	req, err := s.donationService.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}

	if caller := callerID(c); caller != "" && !req.HasParticipant(caller) {
		return respondError(c, models.NewForbiddenError("Only the requester or the donor can view this request"))
	}

	return c.JSON(DonationRequestResponse{DonationRequest: req})
}

// ListDonationRequests handles GET /api/donation-requests?userId=
// @Summary List a user's donation requests
// @Description Requests where the user is requester or donor, newest first.
// @Tags donation-requests
// @Produce json
// @Param userId query string false "User ID, defaults to the caller"
// @Param limit query int false "Page size" default(20)
// @Param offset query int false "Offset" default(0)
// @Success 200 {object} DonationRequestListResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /donation-requests [get]
func (s *Server) ListDonationRequests(c *fiber.Ctx) error {
	caller := callerID(c)
	userID := c.Query("userId", caller)
	if caller != "" && userID != caller {
		return respondError(c, models.NewForbiddenError("You can only list your own requests"))
	}

	page := parsePagination(c, defaultPaginationLimit)
	list, err := s.donationService.ListForUser(c.UserContext(), userID, page.Limit, page.Offset)
	if err != nil {
		return respondError(c, err)
	}
	if list == nil {
		list = []*models.DonationRequest{}
	}

	return c.JSON(DonationRequestListResponse{
		DonationRequests: list,
		Limit:            page.Limit,
		Offset:           page.Offset,
	})
}
