package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/neomorfeo/backoffice/internal/adapter/middleware"
	"github.com/neomorfeo/backoffice/internal/app"
	"github.com/neomorfeo/backoffice/internal/domain"
)

const timeFormat = "2006-01-02T15:04:05Z"

// ResponseItem is the API representation of one ticket response.
type ResponseItem struct {
	ID        string `json:"id" doc:"Unique identifier"`
	Role      string `json:"role" doc:"Role of the author"`
	Message   string `json:"message" doc:"Response text"`
	CreatedAt string `json:"created_at" doc:"Creation timestamp (ISO 8601)"`
	UpdatedAt string `json:"updated_at" doc:"Last update timestamp (ISO 8601)"`
}

// TicketResponse is the API representation of a ticket.
type TicketResponse struct {
	ID            string         `json:"id" doc:"Unique identifier"`
	TicketNo      string         `json:"ticket_no" doc:"Human-readable ticket number"`
	Subject       string         `json:"subject" doc:"Short summary"`
	Body          string         `json:"body" doc:"Full description"`
	Category      string         `json:"category" doc:"Topic category"`
	Priority      string         `json:"priority" doc:"Advisory urgency"`
	Status        string         `json:"status" doc:"Lifecycle state"`
	SubmittedBy   string         `json:"submitted_by" doc:"Submitting principal ID"`
	AssignedAdmin string         `json:"assigned_admin,omitempty" doc:"Assigned admin ID, empty for admin tickets"`
	EnterpriseID  string         `json:"enterprise_id,omitempty" doc:"Owning enterprise"`
	IsAdminTicket bool           `json:"is_admin_ticket" doc:"Whether an admin raised this ticket"`
	Forwarded     bool           `json:"forwarded" doc:"Whether the ticket was escalated to the superadmins"`
	ForwardedBy   string         `json:"forwarded_by,omitempty" doc:"Admin who escalated"`
	ForwardedAt   string         `json:"forwarded_at,omitempty" doc:"Escalation timestamp (ISO 8601)"`
	Responses     []ResponseItem `json:"responses" doc:"Conversation thread"`
	CreatedAt     string         `json:"created_at" doc:"Creation timestamp (ISO 8601)"`
	UpdatedAt     string         `json:"updated_at" doc:"Last update timestamp (ISO 8601)"`
}

func toTicketResponse(t domain.Ticket) TicketResponse {
	resp := TicketResponse{
		ID:            t.ID,
		TicketNo:      t.TicketNo,
		Subject:       t.Subject,
		Body:          t.Body,
		Category:      t.Category,
		Priority:      string(t.Priority),
		Status:        string(t.Status),
		SubmittedBy:   t.SubmittedBy,
		AssignedAdmin: t.AssignedAdmin,
		EnterpriseID:  t.EnterpriseID,
		IsAdminTicket: t.IsAdminTicket,
		Forwarded:     t.ForwardedToSuperAdmin,
		ForwardedBy:   t.ForwardedBy,
		Responses:     make([]ResponseItem, len(t.Responses)),
		CreatedAt:     t.CreatedAt.Format(timeFormat),
		UpdatedAt:     t.UpdatedAt.Format(timeFormat),
	}
	if t.ForwardedAt != nil {
		resp.ForwardedAt = t.ForwardedAt.Format(timeFormat)
	}
	for i, r := range t.Responses {
		resp.Responses[i] = ResponseItem{
			ID:        r.ID,
			Role:      string(r.Role),
			Message:   r.Message,
			CreatedAt: r.CreatedAt.Format(timeFormat),
			UpdatedAt: r.UpdatedAt.Format(timeFormat),
		}
	}
	return resp
}

// GrantResponse is the API representation of a product grant.
type GrantResponse struct {
	ProductID    string `json:"product_id" doc:"Product identifier"`
	Active       bool   `json:"active" doc:"Whether access is currently granted"`
	GrantedAt    string `json:"granted_at" doc:"Grant timestamp (ISO 8601)"`
	GrantedBy    string `json:"granted_by" doc:"Granting principal ID"`
	RevokedAt    string `json:"revoked_at,omitempty" doc:"Revocation timestamp (ISO 8601)"`
	RevokedBy    string `json:"revoked_by,omitempty" doc:"Revoking principal ID"`
	AccessLink   string `json:"access_link" doc:"Shareable access link slug"`
	AccessCount  int64  `json:"access_count" doc:"Times the link was resolved"`
	LastAccessed string `json:"last_accessed,omitempty" doc:"Last link resolution (ISO 8601)"`
}

func toGrantResponse(g domain.ProductGrant) GrantResponse {
	resp := GrantResponse{
		ProductID:   g.ProductID,
		Active:      g.Active,
		GrantedAt:   g.GrantedAt.Format(timeFormat),
		GrantedBy:   g.GrantedBy,
		RevokedBy:   g.RevokedBy,
		AccessLink:  g.AccessLink,
		AccessCount: g.AccessCount,
	}
	if g.RevokedAt != nil {
		resp.RevokedAt = g.RevokedAt.Format(timeFormat)
	}
	if g.LastAccessed != nil {
		resp.LastAccessed = g.LastAccessed.Format(timeFormat)
	}
	return resp
}

// --- Tickets ---

type CreateTicketInput struct {
	Body struct {
		Subject           string `json:"subject" minLength:"1" maxLength:"255" doc:"Short summary"`
		Message           string `json:"message" minLength:"1" doc:"Full description"`
		Category          string `json:"category,omitempty" maxLength:"100" doc:"Topic category"`
		Priority          string `json:"priority,omitempty" enum:"low,medium,high,critical" doc:"Advisory urgency"`
		RaiseToSuperAdmin bool   `json:"raise_to_superadmin,omitempty" doc:"Admins only: raise the ticket directly to the superadmins"`
	}
}

type CreateTicketOutput struct {
	Body TicketResponse
}

type GetTicketInput struct {
	ID string `path:"id" doc:"Ticket ID"`
}

type GetTicketOutput struct {
	Body TicketResponse
}

type ListTicketsInput struct {
	Scope string `query:"scope" required:"false" default:"submitted" enum:"submitted,assigned,enterprise,raised,forwarded" doc:"Which ticket view to return"`
}

type ListTicketsOutput struct {
	Body []TicketResponse
}

type UpdateTicketInput struct {
	ID   string `path:"id" doc:"Ticket ID"`
	Body struct {
		Status  string `json:"status,omitempty" enum:"open,in_progress,resolved,closed" doc:"New status"`
		Message string `json:"message,omitempty" doc:"Response to append"`
	}
}

type UpdateTicketOutput struct {
	Body TicketResponse
}

type AppendMessageInput struct {
	ID   string `path:"id" doc:"Ticket ID"`
	Body struct {
		Message string `json:"message" minLength:"1" doc:"Follow-up message"`
	}
}

type EditResponseInput struct {
	ID         string `path:"id" doc:"Ticket ID"`
	ResponseID string `path:"responseId" doc:"Response ID"`
	Body       struct {
		Message string `json:"message" minLength:"1" doc:"Replacement text"`
	}
}

type DeleteResponseInput struct {
	ID         string `path:"id" doc:"Ticket ID"`
	ResponseID string `path:"responseId" doc:"Response ID"`
}

type ForwardTicketInput struct {
	ID string `path:"id" doc:"Ticket ID"`
}

type DeleteTicketInput struct {
	ID string `path:"id" doc:"Ticket ID"`
}

type DeleteTicketOutput struct {
	Body struct {
		Deleted bool `json:"deleted"`
	}
}

type StatsOutput struct {
	Body struct {
		Total      int64            `json:"total" doc:"Forwarded tickets in total"`
		ByStatus   map[string]int64 `json:"by_status" doc:"Counts per status"`
		ByPriority map[string]int64 `json:"by_priority" doc:"Counts per priority"`
	}
}

// --- Product access ---

type GrantProductInput struct {
	PrincipalID string `path:"principalId" doc:"Target principal ID"`
	ProductID   string `path:"productId" doc:"Product identifier"`
}

type GrantProductOutput struct {
	Body GrantResponse
}

type ResolveAccessInput struct {
	Link string `path:"link" doc:"Access link slug"`
}

type ResolveAccessOutput struct {
	Body struct {
		PrincipalID string        `json:"principal_id" doc:"Grant owner"`
		Email       string        `json:"email" doc:"Grant owner email"`
		Grant       GrantResponse `json:"grant"`
	}
}

// --- Permission check ---

type PermissionCheckInput struct {
	Module string `query:"module" enum:"products,services,users,leads,tickets" doc:"Functional area"`
	Action string `query:"action" enum:"view,add,edit,delete" doc:"Operation"`
}

type PermissionCheckOutput struct {
	Body struct {
		Allowed bool `json:"allowed"`
	}
}

// Register adds all authenticated API routes to the Huma API. Every route
// assumes the authentication middleware already resolved a principal.
func Register(api huma.API, tickets *app.TicketService, ledger *app.AccessLedger) {
	registerTicketRoutes(api, tickets)
	registerAccessRoutes(api, ledger)

	huma.Register(api, huma.Operation{
		OperationID: "check-permission",
		Method:      http.MethodGet,
		Path:        "/api/v1/permissions/check",
		Summary:     "Check whether the caller may perform an action",
		Tags:        []string{"Permissions"},
	}, func(ctx context.Context, input *PermissionCheckInput) (*PermissionCheckOutput, error) {
		actor, err := principalFrom(ctx)
		if err != nil {
			return nil, err
		}
		out := &PermissionCheckOutput{}
		out.Body.Allowed = app.Authorize(actor, domain.Module(input.Module), domain.Action(input.Action))
		return out, nil
	})
}

func registerTicketRoutes(api huma.API, svc *app.TicketService) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-ticket",
		Method:        http.MethodPost,
		Path:          "/api/v1/tickets",
		Summary:       "Submit a support ticket",
		Tags:          []string{"Tickets"},
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *CreateTicketInput) (*CreateTicketOutput, error) {
		actor, err := principalFrom(ctx)
		if err != nil {
			return nil, err
		}
		ticket, err := svc.Create(ctx, actor, app.CreateTicketInput{
			Subject:           input.Body.Subject,
			Body:              input.Body.Message,
			Category:          input.Body.Category,
			Priority:          input.Body.Priority,
			RaiseToSuperAdmin: input.Body.RaiseToSuperAdmin,
		})
		if err != nil {
			return nil, toHumaError(err)
		}
		return &CreateTicketOutput{Body: toTicketResponse(ticket)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tickets",
		Method:      http.MethodGet,
		Path:        "/api/v1/tickets",
		Summary:     "List tickets visible to the caller",
		Tags:        []string{"Tickets"},
	}, func(ctx context.Context, input *ListTicketsInput) (*ListTicketsOutput, error) {
		actor, err := principalFrom(ctx)
		if err != nil {
			return nil, err
		}

		var list []domain.Ticket
		switch input.Scope {
		case "assigned":
			list, err = svc.ListAssigned(ctx, actor)
		case "enterprise":
			list, err = svc.ListForEnterprise(ctx, actor)
		case "raised":
			list, err = svc.ListRaised(ctx, actor)
		case "forwarded":
			if actor.Role != domain.RoleSuperadmin {
				return nil, huma.Error403Forbidden("only a superadmin can list forwarded tickets")
			}
			list, err = svc.ListForwarded(ctx)
		default:
			list, err = svc.ListSubmitted(ctx, actor)
		}
		if err != nil {
			return nil, toHumaError(err)
		}

		resp := make([]TicketResponse, len(list))
		for i, t := range list {
			resp[i] = toTicketResponse(t)
		}
		return &ListTicketsOutput{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-ticket-stats",
		Method:      http.MethodGet,
		Path:        "/api/v1/tickets/stats",
		Summary:     "Aggregate forwarded-ticket counts",
		Tags:        []string{"Tickets"},
	}, func(ctx context.Context, _ *struct{}) (*StatsOutput, error) {
		actor, err := principalFrom(ctx)
		if err != nil {
			return nil, err
		}
		if actor.Role != domain.RoleSuperadmin {
			return nil, huma.Error403Forbidden("only a superadmin can view ticket stats")
		}

		stats, err := svc.Stats(ctx)
		if err != nil {
			return nil, toHumaError(err)
		}

		out := &StatsOutput{}
		out.Body.Total = stats.Total
		out.Body.ByStatus = make(map[string]int64, len(stats.ByStatus))
		for k, v := range stats.ByStatus {
			out.Body.ByStatus[string(k)] = v
		}
		out.Body.ByPriority = make(map[string]int64, len(stats.ByPriority))
		for k, v := range stats.ByPriority {
			out.Body.ByPriority[string(k)] = v
		}
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-ticket",
		Method:      http.MethodGet,
		Path:        "/api/v1/tickets/{id}",
		Summary:     "Get a ticket by ID",
		Tags:        []string{"Tickets"},
	}, func(ctx context.Context, input *GetTicketInput) (*GetTicketOutput, error) {
		actor, err := principalFrom(ctx)
		if err != nil {
			return nil, err
		}
		ticket, err := svc.Get(ctx, actor, input.ID)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &GetTicketOutput{Body: toTicketResponse(ticket)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-ticket",
		Method:      http.MethodPatch,
		Path:        "/api/v1/tickets/{id}",
		Summary:     "Change ticket status and/or append a response",
		Tags:        []string{"Tickets"},
	}, func(ctx context.Context, input *UpdateTicketInput) (*UpdateTicketOutput, error) {
		actor, err := principalFrom(ctx)
		if err != nil {
			return nil, err
		}
		ticket, err := svc.Update(ctx, actor, input.ID, app.UpdateTicketInput{
			Status:  input.Body.Status,
			Message: input.Body.Message,
		})
		if err != nil {
			return nil, toHumaError(err)
		}
		return &UpdateTicketOutput{Body: toTicketResponse(ticket)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "add-ticket-message",
		Method:      http.MethodPost,
		Path:        "/api/v1/tickets/{id}/messages",
		Summary:     "Follow up on your own ticket",
		Tags:        []string{"Tickets"},
	}, func(ctx context.Context, input *AppendMessageInput) (*UpdateTicketOutput, error) {
		actor, err := principalFrom(ctx)
		if err != nil {
			return nil, err
		}
		ticket, err := svc.AppendUserMessage(ctx, actor, input.ID, input.Body.Message)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &UpdateTicketOutput{Body: toTicketResponse(ticket)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "edit-ticket-response",
		Method:      http.MethodPut,
		Path:        "/api/v1/tickets/{id}/responses/{responseId}",
		Summary:     "Rewrite a response (superadmin only)",
		Tags:        []string{"Tickets"},
	}, func(ctx context.Context, input *EditResponseInput) (*UpdateTicketOutput, error) {
		actor, err := principalFrom(ctx)
		if err != nil {
			return nil, err
		}
		ticket, err := svc.EditResponse(ctx, actor, input.ID, input.ResponseID, input.Body.Message)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &UpdateTicketOutput{Body: toTicketResponse(ticket)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-ticket-response",
		Method:      http.MethodDelete,
		Path:        "/api/v1/tickets/{id}/responses/{responseId}",
		Summary:     "Delete a response (superadmin only)",
		Tags:        []string{"Tickets"},
	}, func(ctx context.Context, input *DeleteResponseInput) (*UpdateTicketOutput, error) {
		actor, err := principalFrom(ctx)
		if err != nil {
			return nil, err
		}
		ticket, err := svc.RemoveResponse(ctx, actor, input.ID, input.ResponseID)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &UpdateTicketOutput{Body: toTicketResponse(ticket)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "forward-ticket",
		Method:      http.MethodPost,
		Path:        "/api/v1/tickets/{id}/forward",
		Summary:     "Escalate a ticket to the superadmins",
		Tags:        []string{"Tickets"},
	}, func(ctx context.Context, input *ForwardTicketInput) (*UpdateTicketOutput, error) {
		actor, err := principalFrom(ctx)
		if err != nil {
			return nil, err
		}
		ticket, err := svc.Forward(ctx, actor, input.ID)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &UpdateTicketOutput{Body: toTicketResponse(ticket)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-ticket",
		Method:      http.MethodDelete,
		Path:        "/api/v1/tickets/{id}",
		Summary:     "Delete a ticket",
		Tags:        []string{"Tickets"},
	}, func(ctx context.Context, input *DeleteTicketInput) (*DeleteTicketOutput, error) {
		actor, err := principalFrom(ctx)
		if err != nil {
			return nil, err
		}
		if err := svc.Delete(ctx, actor, input.ID); err != nil {
			return nil, toHumaError(err)
		}
		out := &DeleteTicketOutput{}
		out.Body.Deleted = true
		return out, nil
	})
}

func registerAccessRoutes(api huma.API, ledger *app.AccessLedger) {
	requireProductAdmin := func(ctx context.Context) (domain.Principal, error) {
		actor, err := principalFrom(ctx)
		if err != nil {
			return domain.Principal{}, err
		}
		if !app.Authorize(actor, domain.ModuleProducts, domain.ActionEdit) {
			return domain.Principal{}, huma.Error403Forbidden("you cannot manage product access")
		}
		return actor, nil
	}

	huma.Register(api, huma.Operation{
		OperationID: "grant-product-access",
		Method:      http.MethodPost,
		Path:        "/api/v1/principals/{principalId}/products/{productId}/grant",
		Summary:     "Grant product access and issue an access link",
		Tags:        []string{"Product access"},
	}, func(ctx context.Context, input *GrantProductInput) (*GrantProductOutput, error) {
		actor, err := requireProductAdmin(ctx)
		if err != nil {
			return nil, err
		}
		grant, err := ledger.Grant(ctx, actor, input.PrincipalID, input.ProductID)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &GrantProductOutput{Body: toGrantResponse(grant)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "revoke-product-access",
		Method:      http.MethodPost,
		Path:        "/api/v1/principals/{principalId}/products/{productId}/revoke",
		Summary:     "Revoke product access, keeping grant history",
		Tags:        []string{"Product access"},
	}, func(ctx context.Context, input *GrantProductInput) (*GrantProductOutput, error) {
		actor, err := requireProductAdmin(ctx)
		if err != nil {
			return nil, err
		}
		grant, err := ledger.Revoke(ctx, actor, input.PrincipalID, input.ProductID)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &GrantProductOutput{Body: toGrantResponse(grant)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "regenerate-access-link",
		Method:      http.MethodPost,
		Path:        "/api/v1/principals/{principalId}/products/{productId}/regenerate-link",
		Summary:     "Rotate the access token and link of an active grant",
		Tags:        []string{"Product access"},
	}, func(ctx context.Context, input *GrantProductInput) (*GrantProductOutput, error) {
		actor, err := requireProductAdmin(ctx)
		if err != nil {
			return nil, err
		}
		grant, err := ledger.RegenerateLink(ctx, actor, input.PrincipalID, input.ProductID)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &GrantProductOutput{Body: toGrantResponse(grant)}, nil
	})
}

// RegisterPublic adds the unauthenticated routes: access links are shared
// outside the system and resolve without a credential.
func RegisterPublic(api huma.API, ledger *app.AccessLedger) {
	huma.Register(api, huma.Operation{
		OperationID: "resolve-access-link",
		Method:      http.MethodGet,
		Path:        "/access/{link}",
		Summary:     "Resolve a product access link",
		Tags:        []string{"Product access"},
	}, func(ctx context.Context, input *ResolveAccessInput) (*ResolveAccessOutput, error) {
		principal, grant, err := ledger.ResolveByLink(ctx, input.Link)
		if err != nil {
			return nil, toHumaError(err)
		}
		out := &ResolveAccessOutput{}
		out.Body.PrincipalID = principal.ID
		out.Body.Email = principal.Email
		out.Body.Grant = toGrantResponse(grant)
		return out, nil
	})
}

// principalFrom pulls the authenticated principal from the request context.
func principalFrom(ctx context.Context) (domain.Principal, error) {
	p, ok := middleware.PrincipalFromContext(ctx)
	if !ok {
		return domain.Principal{}, huma.Error401Unauthorized("authentication required")
	}
	return p, nil
}

// toHumaError translates domain errors to Huma HTTP errors.
func toHumaError(err error) error {
	switch {
	case errors.Is(err, domain.ErrTicketNotFound),
		errors.Is(err, domain.ErrPrincipalNotFound),
		errors.Is(err, domain.ErrResponseNotFound):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, domain.ErrInvalidCredential):
		return huma.Error401Unauthorized(err.Error())
	case errors.Is(err, domain.ErrAccessRevoked):
		return huma.Error403Forbidden(err.Error())
	case errors.Is(err, domain.ErrEnterpriseNotConfigured):
		return huma.Error422UnprocessableEntity(err.Error())
	}

	var forbidden *domain.ForbiddenError
	if errors.As(err, &forbidden) {
		return huma.Error403Forbidden(forbidden.Error())
	}

	var notGranted *domain.NotGrantedError
	if errors.As(err, &notGranted) {
		return huma.Error404NotFound(notGranted.Error())
	}

	var trErr *domain.TransitionError
	if errors.As(err, &trErr) {
		return huma.Error422UnprocessableEntity(trErr.Error())
	}

	var valErr *domain.ValidationError
	if errors.As(err, &valErr) {
		return huma.Error400BadRequest(valErr.Error())
	}

	var conflict *domain.ConflictError
	if errors.As(err, &conflict) {
		return huma.Error409Conflict(conflict.Error())
	}

	return huma.Error500InternalServerError("internal server error")
}
