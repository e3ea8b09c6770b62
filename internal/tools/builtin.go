package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"

	"github.com/convoflow/convoflow/internal/templates"
	"github.com/convoflow/convoflow/pkg/models"
)

// Demo argument shapes. Schemas are reflected from these, so the model sees
// exactly what the handlers accept.
type orderLookupArgs struct {
	OrderNumber string `json:"order_number" jsonschema:"description=Order number such as ORD-123456"`
	PhoneLast4  string `json:"phone_last4,omitempty" jsonschema:"description=Last 4 digits of the phone on the order"`
}

type customerDataLookupArgs struct {
	Phone string `json:"phone,omitempty" jsonschema:"description=Customer phone number"`
	Email string `json:"email,omitempty" jsonschema:"description=Customer email address"`
}

type stockLookupArgs struct {
	Product string `json:"product" jsonschema:"description=Product name to check stock for"`
}

type trackingLookupArgs struct {
	TrackingNumber string `json:"tracking_number" jsonschema:"description=Shipment tracking number"`
}

type createCallbackArgs struct {
	Phone string `json:"phone" jsonschema:"description=Phone number to call back"`
	Topic string `json:"topic,omitempty" jsonschema:"description=What the callback is about"`
}

func reflectSchema(v any) json.RawMessage {
	reflector := &jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true}
	schema := reflector.Reflect(v)
	schema.Version = ""
	raw, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Sprintf("tools: schema reflection failed: %v", err))
	}
	return raw
}

// DemoOrder is one seeded order for the demo backend.
type DemoOrder struct {
	Number     string
	Status     string
	PhoneLast4 string
	Items      string
}

// DemoBackend is the in-memory dataset behind the built-in catalog. It
// serves development and test deployments; production wires real handlers
// into the registry instead.
type DemoBackend struct {
	mu        sync.Mutex
	orders    map[string]DemoOrder
	customers map[string]map[string]any // keyed by phone or email
	stock     map[string]int
	tracking  map[string]string
	callbacks []createCallbackArgs
}

// NewDemoBackend seeds a demo dataset.
func NewDemoBackend() *DemoBackend {
	return &DemoBackend{
		orders: map[string]DemoOrder{
			"ORD-123456": {Number: "ORD-123456", Status: "shipped", PhoneLast4: "4567", Items: "2x kırmızı kazak"},
			"ORD-777777": {Number: "ORD-777777", Status: "preparing", PhoneLast4: "9911", Items: "1x mavi gömlek"},
		},
		customers: map[string]map[string]any{
			"05551234567": {"customer_name": "Ayşe Yılmaz", "balance": "0.00", "segment": "standard"},
		},
		stock: map[string]int{
			"kırmızı kazak": 12,
			"mavi gömlek":   0,
		},
		tracking: map[string]string{
			"TRK-900001": "out for delivery",
		},
	}
}

// Callbacks returns the callback requests recorded so far.
func (b *DemoBackend) Callbacks() []createCallbackArgs {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]createCallbackArgs, len(b.callbacks))
	copy(out, b.callbacks)
	return out
}

// RegisterBuiltins registers the demo catalog against the backend.
func RegisterBuiltins(registry *Registry, backend *DemoBackend) error {
	entries := []struct {
		entry   models.CatalogEntry
		handler Handler
	}{
		{
			entry: models.CatalogEntry{
				Name:            "order_lookup",
				Description:     "Look up the status of an order by order number.",
				ParameterSchema: reflectSchema(&orderLookupArgs{}),
				Preconditions: models.Preconditions{
					RequiredSlots: []string{"order_number"},
					Guidance: map[models.Language]string{
						models.LangTR: "Sipariş durumunu sorgulamak için önce sipariş numarasını isteyin.",
						models.LangEN: "Ask for the order number before looking up order status.",
					},
				},
				FieldWhitelist: models.FieldWhitelist{
					Required: []string{"order_number", "status"},
					Priority: []string{"items"},
				},
			},
			handler: backend.orderLookup,
		},
		{
			entry: models.CatalogEntry{
				Name:            "customer_data_lookup",
				Description:     "Look up customer account data by phone or email.",
				ParameterSchema: reflectSchema(&customerDataLookupArgs{}),
				FieldWhitelist: models.FieldWhitelist{
					Required: []string{"customer_name"},
					Priority: []string{"balance"},
					Optional: []string{"segment"},
				},
			},
			handler: backend.customerDataLookup,
		},
		{
			entry: models.CatalogEntry{
				Name:            "stock_lookup",
				Description:     "Check how many units of a product are in stock.",
				ParameterSchema: reflectSchema(&stockLookupArgs{}),
				Preconditions: models.Preconditions{
					RequiredSlots: []string{"product"},
					Guidance: map[models.Language]string{
						models.LangTR: "Stok sorgusu için önce hangi ürünü sorduğunu netleştirin.",
						models.LangEN: "Clarify which product is being asked about before checking stock.",
					},
				},
				FieldWhitelist: models.FieldWhitelist{
					Required: []string{"product", "availability"},
				},
			},
			handler: backend.stockLookup,
		},
		{
			entry: models.CatalogEntry{
				Name:            "tracking_lookup",
				Description:     "Look up shipment status by tracking number.",
				ParameterSchema: reflectSchema(&trackingLookupArgs{}),
				FieldWhitelist: models.FieldWhitelist{
					Required: []string{"tracking_number", "status"},
				},
			},
			handler: backend.trackingLookup,
		},
		{
			entry: models.CatalogEntry{
				Name:            "create_callback",
				Description:     "Create a callback request so an agent calls the customer.",
				ParameterSchema: reflectSchema(&createCallbackArgs{}),
				Preconditions: models.Preconditions{
					RequiredSlots: []string{"phone"},
					Guidance: map[models.Language]string{
						models.LangTR: "Geri arama kaydı için önce telefon numarasını isteyin.",
						models.LangEN: "Ask for the phone number before creating a callback.",
					},
				},
			},
			handler: backend.createCallback,
		},
	}

	for _, e := range entries {
		if err := registry.Register(e.entry, e.handler); err != nil {
			return err
		}
	}
	return nil
}

func (b *DemoBackend) orderLookup(ctx context.Context, args map[string]any, meta CallMeta) (*models.ToolResult, error) {
	number := strings.ToUpper(strings.TrimSpace(str(args["order_number"])))
	b.mu.Lock()
	order, ok := b.orders[number]
	b.mu.Unlock()
	if !ok {
		return &models.ToolResult{Outcome: models.OutcomeNotFound}, nil
	}

	last4 := str(args["phone_last4"])
	if last4 == "" {
		last4 = meta.Slots["phone_last4"]
	}
	if last4 != order.PhoneLast4 {
		return &models.ToolResult{
			Outcome: models.OutcomeVerificationRequired,
			AskFor:  []string{"phone_last4"},
			StateEvents: []models.StateEvent{
				{Type: models.EventRequireVerification, Field: "phone_last4"},
			},
		}, nil
	}

	return &models.ToolResult{
		Outcome: models.OutcomeOK,
		Data: map[string]any{
			"order_number": order.Number,
			"status":       order.Status,
			"items":        order.Items,
		},
		Message: fmt.Sprintf("Order %s is %s.", order.Number, order.Status),
		StateEvents: []models.StateEvent{
			{Type: models.EventSetFlow, Flow: models.FlowOrderStatus},
			{Type: models.EventClearVerification},
		},
	}, nil
}

func (b *DemoBackend) customerDataLookup(ctx context.Context, args map[string]any, meta CallMeta) (*models.ToolResult, error) {
	key := str(args["phone"])
	if key == "" {
		key = str(args["email"])
	}
	if key == "" {
		return &models.ToolResult{Outcome: models.OutcomeNeedMoreInfo, AskFor: []string{"phone"}}, nil
	}
	b.mu.Lock()
	record, ok := b.customers[strings.ToLower(strings.TrimSpace(key))]
	b.mu.Unlock()
	if !ok {
		return &models.ToolResult{Outcome: models.OutcomeNotFound}, nil
	}
	data := make(map[string]any, len(record))
	for k, v := range record {
		data[k] = v
	}
	return &models.ToolResult{Outcome: models.OutcomeOK, Data: data}, nil
}

func (b *DemoBackend) stockLookup(ctx context.Context, args map[string]any, meta CallMeta) (*models.ToolResult, error) {
	product := strings.ToLower(strings.TrimSpace(str(args["product"])))
	if product == "" {
		return &models.ToolResult{Outcome: models.OutcomeNeedMoreInfo, AskFor: []string{"product"}}, nil
	}
	b.mu.Lock()
	quantity, ok := b.stock[product]
	b.mu.Unlock()
	if !ok {
		return &models.ToolResult{Outcome: models.OutcomeNotFound}, nil
	}
	return &models.ToolResult{
		Outcome: models.OutcomeOK,
		Data:    map[string]any{"product": product, "availability": availabilityBand(quantity)},
		StateEvents: []models.StateEvent{
			{Type: models.EventSetFlow, Flow: models.FlowStockCheck},
			{Type: models.EventSetSlot, Field: "product", Value: product},
		},
	}, nil
}

// availabilityBand folds an exact count into the coarse band the assistant
// is allowed to share.
func availabilityBand(quantity int) string {
	switch {
	case quantity <= 0:
		return models.StockOutOfStock
	case quantity <= 5:
		return models.StockLimited
	default:
		return models.StockInStock
	}
}

func (b *DemoBackend) trackingLookup(ctx context.Context, args map[string]any, meta CallMeta) (*models.ToolResult, error) {
	number := strings.ToUpper(strings.TrimSpace(str(args["tracking_number"])))
	b.mu.Lock()
	status, ok := b.tracking[number]
	b.mu.Unlock()
	if !ok {
		return &models.ToolResult{Outcome: models.OutcomeNotFound, AskFor: []string{"tracking_number"}}, nil
	}
	return &models.ToolResult{
		Outcome: models.OutcomeOK,
		Data:    map[string]any{"tracking_number": number, "status": status},
	}, nil
}

func (b *DemoBackend) createCallback(ctx context.Context, args map[string]any, meta CallMeta) (*models.ToolResult, error) {
	phone := strings.TrimSpace(str(args["phone"]))
	if phone == "" {
		return &models.ToolResult{Outcome: models.OutcomeNeedMoreInfo, AskFor: []string{"phone"}}, nil
	}
	b.mu.Lock()
	b.callbacks = append(b.callbacks, createCallbackArgs{Phone: phone, Topic: str(args["topic"])})
	id := fmt.Sprintf("CB-%04d", len(b.callbacks))
	b.mu.Unlock()
	return &models.ToolResult{
		Outcome: models.OutcomeOK,
		Data:    map[string]any{"callback_id": id},
		Message: templates.Render(templates.KeyCallbackTaken, meta.Language),
		StateEvents: []models.StateEvent{
			{Type: models.EventSetFlowStatus, Value: string(models.FlowPostResult)},
		},
	}, nil
}

func str(v any) string {
	s, _ := v.(string)
	return s
}
