package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"salesbot/internal/ai"
	"salesbot/internal/models"
	"salesbot/internal/payments"
	"salesbot/internal/util"

	"go.uber.org/zap"
)

// Built-in tool names
const (
	toolCreatePaymentLink = "create_payment_link"
	toolSearchCatalog     = "search_catalog"
	toolCaptureContact    = "capture_contact"
)

// turnState accumulates tool side effects across one conversation turn.
type turnState struct {
	paymentLink string
	searched    bool
}

// builtinTools returns the tool definitions offered to the model for this
// tenant and channel. The payment link tool only appears when the tenant's
// plan and closing strategy permit hosted checkout on this channel.
func (o *Orchestrator) builtinTools(tenant *models.Tenant, channel string) []ai.Tool {
	tools := []ai.Tool{
		ai.NewTool(toolSearchCatalog,
			"Search the store catalog by product name or keyword. Returns matching products with price and stock.",
			map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"query": map[string]interface{}{
						"type":        "string",
						"description": "Product name or keyword to search for",
					},
				},
				"required": []string{"query"},
			}),
		ai.NewTool(toolCaptureContact,
			"Save a contact detail the customer shared: their name, email or phone.",
			map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"field": map[string]interface{}{
						"type": "string",
						"enum": []string{"name", "email", "phone"},
					},
					"value": map[string]interface{}{
						"type": "string",
					},
				},
				"required": []string{"field", "value"},
			}),
	}

	if paymentLinkAllowed(tenant, channel) {
		tools = append(tools, ai.NewTool(toolCreatePaymentLink,
			"Create a hosted checkout link for a catalog product the customer wants to buy. Verifies stock first.",
			map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"product_id": map[string]interface{}{
						"type":        "integer",
						"description": "Catalog id of the product",
					},
					"quantity": map[string]interface{}{
						"type":    "integer",
						"minimum": 1,
					},
					"payer_email": map[string]interface{}{
						"type":        "string",
						"description": "Customer email if already known",
					},
				},
				"required": []string{"product_id"},
			}))
	}

	return tools
}

func paymentLinkAllowed(tenant *models.Tenant, channel string) bool {
	if tenant.Plan != models.PlanPro || tenant.PaymentToken == "" {
		return false
	}
	if tenant.ClosingStrategy != "" && tenant.ClosingStrategy != models.ClosingPaymentLink {
		return false
	}
	// TikTok DMs strip outbound links.
	return channel != models.ProviderTikTok
}

// executeTool runs one requested tool call and renders its result as text for
// the model. Failures become result text, never turn aborts.
func (o *Orchestrator) executeTool(ctx context.Context, tenant *models.Tenant, channel, sender string, call ai.ToolCall, externals map[string]ExternalTool, turn *turnState) string {
	var result string
	var err error

	switch call.Function.Name {
	case toolCreatePaymentLink:
		result, err = o.createPaymentLink(ctx, tenant, channel, call.Function.Arguments, turn)
	case toolSearchCatalog:
		result, err = o.searchCatalog(ctx, tenant.ID, call.Function.Arguments, turn)
	case toolCaptureContact:
		result, err = o.captureContact(ctx, tenant.ID, channel, sender, call.Function.Arguments)
	default:
		external, ok := externals[call.Function.Name]
		if !ok {
			err = fmt.Errorf("unknown tool %s", call.Function.Name)
			break
		}
		result, err = o.tools.Invoke(ctx, external.Server, call.Function.Name, call.Function.Arguments)
	}

	if err != nil {
		util.ToolCallsTotal.WithLabelValues(call.Function.Name, "error").Inc()
		o.logger.Warn("Tool call failed",
			zap.String("tenant_id", tenant.ID),
			zap.String("tool", call.Function.Name),
			zap.Error(err))
		return fmt.Sprintf("The tool %s is currently unavailable: %v", call.Function.Name, err)
	}

	util.ToolCallsTotal.WithLabelValues(call.Function.Name, "ok").Inc()
	return result
}

func (o *Orchestrator) createPaymentLink(ctx context.Context, tenant *models.Tenant, channel, arguments string, turn *turnState) (string, error) {
	if !paymentLinkAllowed(tenant, channel) {
		return "Hosted checkout is not available for this store.", nil
	}

	var args struct {
		ProductID  int64  `json:"product_id"`
		Quantity   int    `json:"quantity"`
		PayerEmail string `json:"payer_email"`
	}
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if args.Quantity <= 0 {
		args.Quantity = 1
	}

	product, err := o.store.GetProductByID(ctx, tenant.ID, args.ProductID)
	if err != nil {
		return "", err
	}
	if product.Stock < args.Quantity {
		return fmt.Sprintf("Only %d units of %s are in stock; cannot sell %d.",
			product.Stock, product.Name, args.Quantity), nil
	}

	link, err := o.links.CreatePreference(ctx, tenant.PaymentToken, payments.PreferenceRequest{
		TenantID:    tenant.ID,
		ProductID:   product.ID,
		Title:       product.Name,
		Quantity:    args.Quantity,
		UnitPrice:   product.Price,
		Currency:    product.Currency,
		PayerEmail:  args.PayerEmail,
		ExternalRef: fmt.Sprintf("%s-%d", tenant.ID, product.ID),
	})
	if err != nil {
		return "", err
	}

	turn.paymentLink = link
	return fmt.Sprintf("Checkout link created for %d x %s: %s", args.Quantity, product.Name, link), nil
}

func (o *Orchestrator) searchCatalog(ctx context.Context, tenantID, arguments string, turn *turnState) (string, error) {
	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}

	products, err := o.store.SearchProducts(ctx, tenantID, args.Query)
	if err != nil {
		return "", err
	}
	turn.searched = true

	if len(products) == 0 {
		return fmt.Sprintf("No products match %q.", args.Query), nil
	}

	var b strings.Builder
	for _, p := range products {
		fmt.Fprintf(&b, "- [%d] %s: %s %s (%d in stock)\n",
			p.ID, p.Name, formatPrice(p.Price), p.Currency, p.Stock)
	}
	return b.String(), nil
}

func (o *Orchestrator) captureContact(ctx context.Context, tenantID, channel, sender, arguments string) (string, error) {
	var args struct {
		Field string `json:"field"`
		Value string `json:"value"`
	}
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}

	switch args.Field {
	case "name", "email", "phone":
	default:
		return "", fmt.Errorf("unsupported contact field %q", args.Field)
	}

	if err := o.store.UpdateContactField(ctx, tenantID, channel, sender, args.Field, args.Value); err != nil {
		return "", err
	}
	return fmt.Sprintf("Saved the customer's %s.", args.Field), nil
}

// formatPrice renders a minor-unit price as a decimal string.
func formatPrice(minorUnits int64) string {
	return fmt.Sprintf("%d.%02d", minorUnits/100, minorUnits%100)
}
