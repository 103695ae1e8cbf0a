package internal

import (
	"encoding/json"
	"log"
	"strings"

	"github.com/Knetic/govaluate"
)

// RouteMatch is one matched fan-out target for an event.
type RouteMatch struct {
	Topic   string
	Drivers []string
}

type compiledRoute struct {
	emit    string
	drivers []string
	expr    *govaluate.EvaluableExpression
}

// Router fans validated events onto extra topics based on configured
// expressions. Expressions see the event envelope fields plus the flattened
// payload under the `payload.` prefix.
type Router struct {
	routes []compiledRoute
	logger *log.Logger
}

// NewRouter compiles the configured route expressions.
func NewRouter(routes []Route, logger *log.Logger) (*Router, error) {
	if logger == nil {
		logger = log.Default()
	}
	compiled := make([]compiledRoute, 0, len(routes))
	for _, route := range routes {
		expr, err := govaluate.NewEvaluableExpression(route.When)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, compiledRoute{
			emit:    strings.TrimSpace(route.Emit),
			drivers: route.Drivers,
			expr:    expr,
		})
	}
	return &Router{routes: compiled, logger: logger}, nil
}

// Evaluate returns the extra topics the event should be published to.
// A failing expression skips that route; routing must never block ingestion.
func (r *Router) Evaluate(event Event) []RouteMatch {
	if r == nil || len(r.routes) == 0 {
		return nil
	}

	doc := r.document(event)
	matches := make([]RouteMatch, 0, 1)
	for _, route := range r.routes {
		result, err := route.expr.Evaluate(doc)
		if err != nil {
			r.logger.Printf("route eval failed emit=%s: %v", route.emit, err)
			continue
		}
		if ok, _ := result.(bool); ok {
			matches = append(matches, RouteMatch{Topic: route.emit, Drivers: route.drivers})
		}
	}
	return matches
}

func (r *Router) document(event Event) map[string]interface{} {
	doc := map[string]interface{}{
		"kind":        string(event.Kind),
		"platform":    event.Platform,
		"app_id":      event.AppID,
		"repository":  event.Repo.FullName,
		"change_id":   event.ChangeID,
		"delivery_id": event.DeliveryID,
	}
	if len(event.Payload) > 0 {
		var payload map[string]interface{}
		if err := json.Unmarshal(event.Payload, &payload); err == nil {
			for key, value := range Flatten(payload) {
				doc["payload."+key] = value
			}
		}
	}
	return doc
}
