package telemetry

import (
	"fmt"
	"maps"

	"go.opentelemetry.io/otel/attribute"
)

type SpanAttributes struct {
	ActionCategory string

	CampaignID    optional[string] // fuzz.campaign.id
	TargetCommand optional[string] // fuzz.target.command
	Rounds        optional[int]    // fuzz.campaign.rounds
	MutantCount   optional[int]    // fuzz.mutants.total
	Executed      optional[int]    // fuzz.mutants.executed
	Failures      optional[int]    // fuzz.executions.failed

	extraAttributes map[string]any
}

func NewSpanAttributes(actionCategory ActionCategory) *SpanAttributes {
	return &SpanAttributes{
		ActionCategory:  actionCategory.String(),
		extraAttributes: make(map[string]any),
	}
}

// returns an empty SpanAttributes instance with no action category.
// this is useful for creating a SpanAttributes instance that can be populated later.
func EmptySpanAttributes() *SpanAttributes {
	return &SpanAttributes{
		extraAttributes: make(map[string]any),
	}
}

// Merge updates the current SpanAttributes with values from another SpanAttributes.
// Optional values overwrite unset ones only; the action category is always taken if set.
func (o *SpanAttributes) Merge(other *SpanAttributes) {
	if other == nil {
		return
	}

	if other.ActionCategory != "" {
		o.ActionCategory = other.ActionCategory
	}

	mergeOptional(&o.CampaignID, &other.CampaignID)
	mergeOptional(&o.TargetCommand, &other.TargetCommand)
	mergeOptional(&o.Rounds, &other.Rounds)
	mergeOptional(&o.MutantCount, &other.MutantCount)
	mergeOptional(&o.Executed, &other.Executed)
	mergeOptional(&o.Failures, &other.Failures)

	if o.extraAttributes == nil {
		o.extraAttributes = make(map[string]any)
	}
	for k, v := range other.extraAttributes {
		if _, exists := o.extraAttributes[k]; !exists {
			o.extraAttributes[k] = v
		}
	}
}

func (o *SpanAttributes) WithCampaignID(val string) *SpanAttributes {
	o.CampaignID.Set(val)
	return o
}

func (o *SpanAttributes) WithTargetCommand(val string) *SpanAttributes {
	o.TargetCommand.Set(val)
	return o
}

func (o *SpanAttributes) WithRounds(val int) *SpanAttributes {
	o.Rounds.Set(val)
	return o
}

func (o *SpanAttributes) WithMutantCount(val int) *SpanAttributes {
	o.MutantCount.Set(val)
	return o
}

func (o *SpanAttributes) WithExecuted(val int) *SpanAttributes {
	o.Executed.Set(val)
	return o
}

func (o *SpanAttributes) WithFailures(val int) *SpanAttributes {
	o.Failures.Set(val)
	return o
}

func (o *SpanAttributes) WithExtraAttribute(key string, val any) *SpanAttributes {
	if o.extraAttributes == nil {
		o.extraAttributes = make(map[string]any)
	}
	o.extraAttributes[key] = val
	return o
}

func (o *SpanAttributes) WithExtraAttributes(attrs map[string]any) *SpanAttributes {
	if o.extraAttributes == nil {
		o.extraAttributes = make(map[string]any)
	}
	maps.Copy(o.extraAttributes, attrs)
	return o
}

func (o SpanAttributes) Attributes() []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if o.ActionCategory != "" {
		attrs = append(attrs, attribute.String("fuzz.action.category", o.ActionCategory))
	}
	if o.CampaignID.set {
		attrs = append(attrs, attribute.String("fuzz.campaign.id", o.CampaignID.val))
	}
	if o.TargetCommand.set {
		attrs = append(attrs, attribute.String("fuzz.target.command", o.TargetCommand.val))
	}
	if o.Rounds.set {
		attrs = append(attrs, attribute.Int("fuzz.campaign.rounds", o.Rounds.val))
	}
	if o.MutantCount.set {
		attrs = append(attrs, attribute.Int("fuzz.mutants.total", o.MutantCount.val))
	}
	if o.Executed.set {
		attrs = append(attrs, attribute.Int("fuzz.mutants.executed", o.Executed.val))
	}
	if o.Failures.set {
		attrs = append(attrs, attribute.Int("fuzz.executions.failed", o.Failures.val))
	}

	for k, v := range o.extraAttributes {
		switch val := v.(type) {
		case string:
			attrs = append(attrs, attribute.String(k, val))
		case int:
			attrs = append(attrs, attribute.Int(k, val))
		case int64:
			attrs = append(attrs, attribute.Int64(k, val))
		case float64:
			attrs = append(attrs, attribute.Float64(k, val))
		case bool:
			attrs = append(attrs, attribute.Bool(k, val))
		default:
			attrs = append(attrs, attribute.String(k, fmt.Sprintf("%v", val)))
		}
	}

	return attrs
}

type EventAttributes []attribute.KeyValue

func NewEventAttributes(attributes map[string]string) EventAttributes {
	attrs := make(EventAttributes, 0, len(attributes))
	for k, v := range attributes {
		attrs = append(attrs, attribute.String(k, v))
	}
	return attrs
}

type optional[T any] struct {
	val T
	set bool
}

func (o *optional[T]) Set(val T) { o.val = val; o.set = true }

func mergeOptional[T any](target, source *optional[T]) {
	if !target.set && source.set {
		target.val = source.val
		target.set = true
	}
}
