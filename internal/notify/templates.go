// Package notify renders and sends match-alert emails. Alerts are best
// effort: one attempt per outbox event, never retried, never blocking the
// CRM queue.
package notify

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/osteele/liquid"

	"github.com/mkre153/dealfinder-pro-sub000/internal/domain"
)

// Default Liquid templates. Deployments that want different copy can ship
// their own strings through the template service; the context keys below are
// the contract.
const (
	DefaultMatchSubject = `New match: {{ address }} (score {{ score }})`

	DefaultDropSubject = `Price drop: {{ address }} now {{ new_price | currency }}`

	DefaultAlertBody = `<h2>Hi {{ client_name | default: "there" }},</h2>
{% if is_price_drop %}<p>A listing matching your saved search dropped in price.</p>
<p><strong>{{ address }}</strong> is now {{ new_price | currency }}, down from {{ old_price | currency }}.</p>
{% else %}<p>Your property search found a new match.</p>
<p><strong>{{ address }}</strong>{% if price %} listed at {{ price | currency }}{% endif %}.</p>
{% endif %}<p>Match score: {{ score }}/100</p>
{% if reasons.size > 0 %}<ul>
{% for reason in reasons %}<li>{{ reason }}</li>
{% endfor %}</ul>
{% endif %}{% if mls_id %}<p>MLS# {{ mls_id }}</p>{% endif %}`
)

// TemplateService renders Liquid templates with domain filters and a
// parse cache.
type TemplateService struct {
	engine *liquid.Engine
	cache  sync.Map // map[string]*liquid.Template
}

// NewTemplateService creates the engine and registers the custom filters.
func NewTemplateService() *TemplateService {
	ts := &TemplateService{engine: liquid.NewEngine()}
	ts.registerFilters()
	return ts
}

func (ts *TemplateService) registerFilters() {
	// Fallback value: {{ client_name | default: "there" }}
	ts.engine.RegisterFilter("default", func(value interface{}, defaultVal string) interface{} {
		if value == nil {
			return defaultVal
		}
		strVal := fmt.Sprintf("%v", value)
		if strVal == "" || strVal == "<nil>" {
			return defaultVal
		}
		return value
	})

	// Whole-dollar prices: {{ price | currency }} renders $850,000.
	ts.engine.RegisterFilter("currency", func(value interface{}) string {
		n, ok := toInt64(value)
		if !ok {
			return fmt.Sprintf("%v", value)
		}
		return "$" + withCommas(n)
	})

	// Thousands separators for counts: {{ sqft | number_with_delimiter }}
	ts.engine.RegisterFilter("number_with_delimiter", func(value interface{}) string {
		n, ok := toInt64(value)
		if !ok {
			return fmt.Sprintf("%v", value)
		}
		return withCommas(n)
	})

	// Percentages carried as floats: {{ below_market | percentage }}
	ts.engine.RegisterFilter("percentage", func(value interface{}) string {
		var f float64
		switch v := value.(type) {
		case float64:
			f = v
		case float32:
			f = float64(v)
		case int:
			f = float64(v)
		default:
			return fmt.Sprintf("%v", value)
		}
		return fmt.Sprintf("%.1f%%", f)
	})
}

func toInt64(value interface{}) (int64, bool) {
	switch v := value.(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return int64(v), true
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

func withCommas(n int64) string {
	str := strconv.FormatInt(n, 10)
	neg := false
	if n < 0 {
		neg = true
		str = str[1:]
	}

	var b strings.Builder
	for i, c := range str {
		if i > 0 && (len(str)-i)%3 == 0 {
			b.WriteRune(',')
		}
		b.WriteRune(c)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}

// Render parses (or reuses a cached parse of) templateStr and renders it
// against ctx.
func (ts *TemplateService) Render(cacheKey, templateStr string, ctx map[string]interface{}) (string, error) {
	if cacheKey != "" {
		if cached, ok := ts.cache.Load(cacheKey); ok {
			tpl := cached.(*liquid.Template)
			return tpl.RenderString(ctx)
		}
	}

	tpl, err := ts.engine.ParseString(templateStr)
	if err != nil {
		return "", fmt.Errorf("parsing template: %w", err)
	}
	if cacheKey != "" {
		ts.cache.Store(cacheKey, tpl)
	}

	return tpl.RenderString(ctx)
}

// RenderAlert produces the subject and HTML body for one outbox event.
func (ts *TemplateService) RenderAlert(ev domain.OutboxEvent, clientName string) (subject, html string, err error) {
	ctx := alertContext(ev, clientName)

	subjectTpl := DefaultMatchSubject
	subjectKey := "subject:new_match"
	if ev.EventType == domain.EventPriceDrop {
		subjectTpl = DefaultDropSubject
		subjectKey = "subject:price_drop"
	}

	subject, err = ts.Render(subjectKey, subjectTpl, ctx)
	if err != nil {
		return "", "", err
	}
	html, err = ts.Render("body:alert", DefaultAlertBody, ctx)
	if err != nil {
		return "", "", err
	}
	return subject, html, nil
}

// alertContext flattens an outbox event into template bindings. Pointer
// fields become nil bindings so {% if %} guards skip absent data.
func alertContext(ev domain.OutboxEvent, clientName string) map[string]interface{} {
	p := ev.Payload.Property

	reasons := ev.Payload.Reasons
	if reasons == nil {
		reasons = []string{}
	}

	ctx := map[string]interface{}{
		"client_name":   clientName,
		"address":       p.Address(),
		"score":         ev.Payload.Score,
		"reasons":       reasons,
		"is_price_drop": ev.EventType == domain.EventPriceDrop,
		"mls_id":        p.MLSID,
		"deal_quality":  p.DealQuality,
		"price":         nil,
		"old_price":     nil,
		"new_price":     nil,
	}
	if p.ListPrice != nil {
		ctx["price"] = *p.ListPrice
	}
	if ev.Payload.OldPrice != nil {
		ctx["old_price"] = *ev.Payload.OldPrice
	}
	if ev.Payload.NewPrice != nil {
		ctx["new_price"] = *ev.Payload.NewPrice
	}
	if p.SquareFeet != nil {
		ctx["sqft"] = *p.SquareFeet
	}
	if p.Bedrooms != nil {
		ctx["bedrooms"] = *p.Bedrooms
	}
	if p.Bathrooms != nil {
		ctx["bathrooms"] = *p.Bathrooms
	}
	if p.BelowMarketPct != nil {
		ctx["below_market"] = *p.BelowMarketPct
	}
	return ctx
}
