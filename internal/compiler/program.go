package compiler

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"github.com/shopspring/decimal"

	"github.com/roach88/referral/internal/model"
)

// CompileProgram parses a CUE value into a ProgramConfig.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The CUE value should be the program struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`program: acme: { ... }`)
//	cfg, err := CompileProgram(v.LookupPath(cue.ParsePath("program.acme")))
//
// CompileProgram only parses; ValidateProgram checks references and ranges.
func CompileProgram(v cue.Value) (*model.ProgramConfig, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	cfg := &model.ProgramConfig{}

	// Program id from the struct label
	labels := v.Path().Selectors()
	if len(labels) > 0 {
		cfg.ID = unquote(labels[len(labels)-1])
	}
	if cfg.ID == "" {
		return nil, &CompileError{Field: "program", Message: "program must be declared under a label", Pos: v.Pos()}
	}

	name, err := optionalString(v, "name", cfg.ID)
	if err != nil {
		return nil, err
	}
	cfg.Name = name

	if cfg.Circles, err = parseCircles(v); err != nil {
		return nil, err
	}
	if cfg.Promoters, cfg.Links, err = parsePromoters(v); err != nil {
		return nil, err
	}
	if cfg.Automations, err = parseAutomations(v); err != nil {
		return nil, err
	}

	for i := range cfg.Circles {
		cfg.Circles[i].ProgramID = cfg.ID
	}
	for i := range cfg.Promoters {
		cfg.Promoters[i].ProgramID = cfg.ID
	}
	for i := range cfg.Links {
		cfg.Links[i].ProgramID = cfg.ID
	}
	for i := range cfg.Automations {
		cfg.Automations[i].ProgramID = cfg.ID
	}

	return cfg, nil
}

func parseCircles(v cue.Value) ([]model.Circle, error) {
	var circles []model.Circle

	circlesVal := v.LookupPath(cue.ParsePath("circles"))
	if !circlesVal.Exists() {
		return circles, nil
	}

	iter, err := circlesVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		id := unquote(iter.Selector())
		name, err := optionalString(iter.Value(), "name", id)
		if err != nil {
			return nil, err
		}
		circles = append(circles, model.Circle{ID: id, Name: name})
	}
	return circles, nil
}

// parsePromoters extracts promoters and the links nested under them.
func parsePromoters(v cue.Value) ([]model.Promoter, []model.Link, error) {
	var (
		promoters []model.Promoter
		links     []model.Link
	)

	promotersVal := v.LookupPath(cue.ParsePath("promoters"))
	if !promotersVal.Exists() {
		return promoters, links, nil
	}

	iter, err := promotersVal.Fields()
	if err != nil {
		return nil, nil, formatCUEError(err)
	}
	for iter.Next() {
		id := unquote(iter.Selector())
		pv := iter.Value()

		p := model.Promoter{ID: id}
		if p.Name, err = optionalString(pv, "name", id); err != nil {
			return nil, nil, err
		}
		if p.Reference, err = optionalString(pv, "reference", id); err != nil {
			return nil, nil, err
		}
		if p.CircleID, err = optionalString(pv, "circle", ""); err != nil {
			return nil, nil, err
		}
		promoters = append(promoters, p)

		linksVal := pv.LookupPath(cue.ParsePath("links"))
		if !linksVal.Exists() {
			continue
		}
		linkIter, err := linksVal.Fields()
		if err != nil {
			return nil, nil, formatCUEError(err)
		}
		for linkIter.Next() {
			linkID := unquote(linkIter.Selector())
			l := model.Link{ID: linkID, PromoterID: id}
			if l.Name, err = optionalString(linkIter.Value(), "name", linkID); err != nil {
				return nil, nil, err
			}
			if l.Reference, err = optionalString(linkIter.Value(), "reference", linkID); err != nil {
				return nil, nil, err
			}
			links = append(links, l)
		}
	}
	return promoters, links, nil
}

func parseAutomations(v cue.Value) ([]model.Automation, error) {
	var automations []model.Automation

	autoVal := v.LookupPath(cue.ParsePath("automations"))
	if !autoVal.Exists() {
		return automations, nil
	}

	iter, err := autoVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		a, err := parseAutomation(unquote(iter.Selector()), iter.Value())
		if err != nil {
			return nil, err
		}
		automations = append(automations, a)
	}
	return automations, nil
}

func parseAutomation(id string, v cue.Value) (model.Automation, error) {
	a := model.Automation{ID: id}
	field := "automations." + id

	var err error
	if a.Name, err = optionalString(v, "name", id); err != nil {
		return a, err
	}
	if a.CircleID, err = requiredString(v, "circle", field); err != nil {
		return a, err
	}
	trigger, err := requiredString(v, "trigger", field)
	if err != nil {
		return a, err
	}
	a.Trigger = model.Trigger(trigger)

	status, err := optionalString(v, "status", string(model.StatusActive))
	if err != nil {
		return a, err
	}
	a.Status = model.AutomationStatus(status)

	effectVal := v.LookupPath(cue.ParsePath("effect"))
	if !effectVal.Exists() {
		return a, &CompileError{Field: field + ".effect", Message: "effect is required", Pos: v.Pos()}
	}
	if a.Effect, err = parseEffect(effectVal, field+".effect"); err != nil {
		return a, err
	}

	condVal := v.LookupPath(cue.ParsePath("conditions"))
	if condVal.Exists() {
		condIter, err := condVal.List()
		if err != nil {
			return a, formatCUEError(err)
		}
		for i := 0; condIter.Next(); i++ {
			c, err := parseCondition(id, i, condIter.Value())
			if err != nil {
				return a, err
			}
			a.Conditions = append(a.Conditions, c)
		}
	}

	return a, nil
}

// parseEffect decodes the effect union once, by its type discriminant.
func parseEffect(v cue.Value, field string) (model.Effect, error) {
	typ, err := requiredString(v, "type", field)
	if err != nil {
		return nil, err
	}

	switch model.EffectType(typ) {
	case model.EffectGenerateCommission:
		specVal := v.LookupPath(cue.ParsePath("commission"))
		if !specVal.Exists() {
			return nil, &CompileError{Field: field + ".commission", Message: "commission spec is required", Pos: v.Pos()}
		}
		ctype, err := requiredString(specVal, "type", field+".commission")
		if err != nil {
			return nil, err
		}
		valueVal := specVal.LookupPath(cue.ParsePath("value"))
		if !valueVal.Exists() {
			return nil, &CompileError{Field: field + ".commission.value", Message: "value is required", Pos: specVal.Pos()}
		}
		value, err := decimalValue(valueVal, field+".commission.value")
		if err != nil {
			return nil, err
		}
		return model.GenerateCommission{Spec: model.CommissionSpec{
			Type:  model.CommissionType(ctype),
			Value: value,
		}}, nil

	case model.EffectSwitchCircle:
		target, err := requiredString(v, "circle", field)
		if err != nil {
			return nil, err
		}
		return model.SwitchCircle{TargetCircleID: target}, nil

	default:
		return nil, &CompileError{
			Field:   field + ".type",
			Message: fmt.Sprintf("unknown effect type %q (want %s or %s)", typ, model.EffectGenerateCommission, model.EffectSwitchCircle),
			Pos:     v.Pos(),
		}
	}
}

func parseCondition(automationID string, i int, v cue.Value) (model.Condition, error) {
	field := fmt.Sprintf("automations.%s.conditions[%d]", automationID, i)

	c := model.Condition{}
	var err error
	if c.ID, err = optionalString(v, "id", fmt.Sprintf("%s.%d", automationID, i)); err != nil {
		return c, err
	}
	param, err := requiredString(v, "parameter", field)
	if err != nil {
		return c, err
	}
	op, err := requiredString(v, "operator", field)
	if err != nil {
		return c, err
	}
	c.Parameter = model.Parameter(param)
	c.Operator = model.Operator(op)

	valueVal := v.LookupPath(cue.ParsePath("value"))
	if !valueVal.Exists() {
		return c, &CompileError{Field: field + ".value", Message: "value is required", Pos: v.Pos()}
	}
	// Values are stored as text; numbers keep their literal form.
	switch valueVal.IncompleteKind() {
	case cue.StringKind:
		c.Value, err = valueVal.String()
		if err != nil {
			return c, formatCUEError(err)
		}
	case cue.IntKind, cue.FloatKind, cue.NumberKind:
		raw, err := valueVal.MarshalJSON()
		if err != nil {
			return c, formatCUEError(err)
		}
		c.Value = string(raw)
	default:
		return c, &CompileError{
			Field:   field + ".value",
			Message: fmt.Sprintf("value must be a string or number, got %v", valueVal.IncompleteKind()),
			Pos:     valueVal.Pos(),
		}
	}
	return c, nil
}

// decimalValue reads a CUE number (or numeric string) without going
// through float64.
func decimalValue(v cue.Value, field string) (decimal.Decimal, error) {
	var text string
	switch v.IncompleteKind() {
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return decimal.Decimal{}, formatCUEError(err)
		}
		text = s
	case cue.IntKind, cue.FloatKind, cue.NumberKind:
		raw, err := v.MarshalJSON()
		if err != nil {
			return decimal.Decimal{}, formatCUEError(err)
		}
		text = string(raw)
	default:
		return decimal.Decimal{}, &CompileError{Field: field, Message: "must be a number", Pos: v.Pos()}
	}

	d, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.Decimal{}, &CompileError{Field: field, Message: fmt.Sprintf("invalid number %q", text), Pos: v.Pos()}
	}
	return d, nil
}

func requiredString(v cue.Value, name, parent string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(name))
	if !fv.Exists() {
		return "", &CompileError{
			Field:   parent + "." + name,
			Message: name + " is required",
			Pos:     v.Pos(),
		}
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func optionalString(v cue.Value, name, def string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(name))
	if !fv.Exists() {
		return def, nil
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func unquote(s cue.Selector) string {
	if s.LabelType() == cue.StringLabel {
		return s.Unquoted()
	}
	return s.String()
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Return first error with position info
	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
