package validation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"restaurant-orders/internal/models"
	"restaurant-orders/internal/pricing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	maxNameLength  = 100
	maxNoteLength  = 500
	maxItems       = 50
	maxQuantity    = 99
	minPhoneDigits = 7
	maxPhoneLength = 20
)

// ParseCreateOrder checks the shape and arithmetic of req and converts it into
// a typed command. Every problem found is reported, not just the first.
func ParseCreateOrder(req *models.CreateOrderRequest) (models.CreateOrderCommand, error) {
	verr := &models.ValidationError{}

	phone := strings.TrimSpace(req.Phone)
	name := strings.TrimSpace(req.Name)
	validatePhone(verr, phone)
	validateCustomerName(verr, name)

	if req.CustomerNote != nil && len(*req.CustomerNote) > maxNoteLength {
		verr.Add("customerNote", "must be at most %d characters", maxNoteLength)
	}

	cmd := models.CreateOrderCommand{
		Phone:        phone,
		Name:         name,
		Subtotal:     req.Subtotal,
		TaxAmount:    req.TaxAmount,
		ServiceFee:   req.ServiceFee,
		Total:        req.Total,
		CustomerNote: req.CustomerNote,
		OrderSource:  strings.TrimSpace(req.OrderSource),
	}
	if cmd.OrderSource == "" {
		cmd.OrderSource = models.DefaultOrderSource
	}

	if len(req.Items) == 0 {
		verr.Add("items", "items cannot be empty")
	}
	if len(req.Items) > maxItems {
		verr.Add("items", "a maximum of %d items is allowed", maxItems)
	}

	sum := decimal.Zero
	for i, item := range req.Items {
		line, ok := parseItem(verr, item, i)
		if !ok {
			continue
		}
		cmd.Items = append(cmd.Items, line)
		sum = sum.Add(line.FinalPrice)
	}

	for field, amount := range map[string]decimal.Decimal{
		"subtotal":   req.Subtotal,
		"taxAmount":  req.TaxAmount,
		"serviceFee": req.ServiceFee,
		"total":      req.Total,
	} {
		if amount.IsNegative() {
			verr.Add(field, "must not be negative")
		}
	}

	if len(cmd.Items) == len(req.Items) && len(req.Items) > 0 && !pricing.WithinTolerance(sum, req.Subtotal) {
		verr.Add("subtotal", "subtotal %s does not match the sum of item prices %s", req.Subtotal.StringFixed(2), sum.StringFixed(2))
	}
	expected := req.Subtotal.Add(req.TaxAmount).Add(req.ServiceFee)
	if !pricing.WithinTolerance(expected, req.Total) {
		verr.Add("total", "total %s does not equal subtotal + taxAmount + serviceFee (%s)", req.Total.StringFixed(2), expected.StringFixed(2))
	}

	if err := verr.OrNil(); err != nil {
		return models.CreateOrderCommand{}, err
	}
	return cmd, nil
}

func validatePhone(verr *models.ValidationError, phone string) {
	if phone == "" {
		verr.Add("phone", "phone is required")
		return
	}
	if len(phone) > maxPhoneLength {
		verr.Add("phone", "phone must be at most %d characters", maxPhoneLength)
		return
	}
	digits := 0
	for _, r := range phone {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case strings.ContainsRune("+-() .", r):
		default:
			verr.Add("phone", "phone contains invalid character %q", r)
			return
		}
	}
	if digits < minPhoneDigits {
		verr.Add("phone", "phone must contain at least %d digits", minPhoneDigits)
	}
}

func validateCustomerName(verr *models.ValidationError, name string) {
	if name == "" {
		verr.Add("name", "name is required")
		return
	}
	if len(name) > maxNameLength {
		verr.Add("name", "name must be less than %d characters", maxNameLength)
	}
}

func parseItem(verr *models.ValidationError, item models.CreateOrderItemRequest, index int) (models.OrderLineCommand, bool) {
	field := func(name string) string { return fmt.Sprintf("items[%d].%s", index, name) }
	before := len(verr.Problems)

	id, err := uuid.Parse(item.MenuItemID)
	if err != nil {
		verr.Add(field("menuItemId"), "must be a valid id")
	}
	if item.Quantity <= 0 {
		verr.Add(field("quantity"), "item quantity must be greater than 0")
	} else if item.Quantity > maxQuantity {
		verr.Add(field("quantity"), "item quantity must be less than or equal to %d", maxQuantity)
	}
	if item.UnitPrice.IsNegative() {
		verr.Add(field("unitPrice"), "must not be negative")
	}
	if item.FinalPrice.IsNegative() {
		verr.Add(field("finalPrice"), "must not be negative")
	}

	line := models.OrderLineCommand{
		MenuItemID:          id,
		Quantity:            item.Quantity,
		UnitPrice:           item.UnitPrice,
		FinalPrice:          item.FinalPrice,
		SpecialInstructions: strings.TrimSpace(item.SpecialInstructions),
	}

	priced := pricing.Line{BasePrice: item.UnitPrice, Quantity: item.Quantity}
	seen := make(map[uuid.UUID]bool, len(item.Options))
	for j, opt := range item.Options {
		optField := fmt.Sprintf("items[%d].options[%d]", index, j)
		optID, err := uuid.Parse(opt.MenuOptionID)
		if err != nil {
			verr.Add(optField+".menuOptionId", "must be a valid id")
			continue
		}
		if seen[optID] {
			verr.Add(optField+".menuOptionId", "option selected twice")
			continue
		}
		seen[optID] = true
		if opt.Quantity < 0 {
			verr.Add(optField+".quantity", "must not be negative")
			continue
		}
		if opt.Quantity == 0 {
			continue
		}
		line.Options = append(line.Options, models.OptionSelectionCommand{
			MenuOptionID: optID,
			Quantity:     opt.Quantity,
			PriceDelta:   opt.PriceDelta,
		})
		priced.Options = append(priced.Options, pricing.Option{ID: opt.MenuOptionID, PriceDelta: opt.PriceDelta, Quantity: opt.Quantity})
	}

	if len(verr.Problems) > before {
		return line, false
	}

	total, err := priced.Total()
	if err != nil {
		verr.Add(field("finalPrice"), "%v", err)
		return line, false
	}
	if !pricing.WithinTolerance(total, item.FinalPrice) {
		verr.Add(field("finalPrice"), "finalPrice %s does not match (unitPrice + options) x quantity = %s",
			item.FinalPrice.StringFixed(2), total.StringFixed(2))
		return line, false
	}
	return line, true
}

var mutableFields = map[string]bool{"status": true, "paymentStatus": true}

// ParseOrderPatch decodes an update body. Only status and paymentStatus may
// appear; any other key, an unknown enum value or an empty patch is rejected.
func ParseOrderPatch(body []byte) (models.OrderPatch, error) {
	verr := &models.ValidationError{}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		verr.Add("body", "invalid JSON format")
		return models.OrderPatch{}, verr
	}

	for key := range raw {
		if !mutableFields[key] {
			verr.Add(key, "field is not mutable")
		}
	}

	var patch models.OrderPatch
	if msg, ok := raw["status"]; ok && !isNull(msg) {
		var s models.OrderStatus
		if err := json.Unmarshal(msg, &s); err != nil || !s.Valid() {
			verr.Add("status", "unknown status %s", string(msg))
		} else {
			patch.Status = &s
		}
	}
	if msg, ok := raw["paymentStatus"]; ok && !isNull(msg) {
		var p models.PaymentStatus
		if err := json.Unmarshal(msg, &p); err != nil || !p.Valid() {
			verr.Add("paymentStatus", "unknown payment status %s", string(msg))
		} else {
			patch.PaymentStatus = &p
		}
	}

	if len(verr.Problems) == 0 && patch.Empty() {
		verr.Add("body", "patch must set status or paymentStatus")
	}
	if err := verr.OrNil(); err != nil {
		return models.OrderPatch{}, err
	}
	return patch, nil
}

func isNull(msg json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(msg), []byte("null"))
}
