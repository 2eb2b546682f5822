package compiler

import (
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/referral/internal/model"
)

func compile(t *testing.T, src, path string) (*model.ProgramConfig, error) {
	t.Helper()
	ctx := cuecontext.New()
	v := ctx.CompileString(src)
	require.NoError(t, v.Err())
	return CompileProgram(v.LookupPath(cue.ParsePath(path)))
}

func TestCompileProgramBasic(t *testing.T) {
	cfg, err := compile(t, `
		program: acme: {
			name: "Acme"
			circles: { starter: name: "Starter", gold: {} }
			promoters: alice: {
				name: "Alice"
				reference: "ALICE"
				circle: "starter"
				links: "alice-blog": name: "Blog"
			}
			automations: {
				"ten-percent": {
					circle: "starter"
					trigger: "PURCHASE"
					effect: { type: "GENERATE_COMMISSION", commission: { type: "PERCENTAGE", value: 12.5 } }
					conditions: [
						{ id: "max", parameter: "purchase_count", operator: "<=", value: 5 },
						{ parameter: "item_id", operator: "=", value: "sku-1" },
					]
				}
				promote: {
					circle: "starter"
					trigger: "SIGNUP"
					status: "INACTIVE"
					effect: { type: "SWITCH_CIRCLE", circle: "gold" }
				}
			}
		}
	`, "program.acme")
	require.NoError(t, err)

	assert.Equal(t, "acme", cfg.ID)
	assert.Equal(t, "Acme", cfg.Name)
	require.Len(t, cfg.Circles, 2)
	assert.Equal(t, model.Circle{ID: "gold", ProgramID: "acme", Name: "gold"}, cfg.Circles[1])

	require.Len(t, cfg.Promoters, 1)
	assert.Equal(t, "starter", cfg.Promoters[0].CircleID)
	require.Len(t, cfg.Links, 1)
	assert.Equal(t, model.Link{ID: "alice-blog", ProgramID: "acme", PromoterID: "alice", Name: "Blog", Reference: "alice-blog"}, cfg.Links[0])

	require.Len(t, cfg.Automations, 2)
	ten := cfg.Automations[0]
	assert.Equal(t, "ten-percent", ten.ID)
	assert.Equal(t, "ten-percent", ten.Name)
	assert.Equal(t, "acme", ten.ProgramID)
	assert.Equal(t, model.StatusActive, ten.Status)
	gc, ok := ten.Effect.(model.GenerateCommission)
	require.True(t, ok)
	assert.Equal(t, model.CommissionPercentage, gc.Spec.Type)
	assert.True(t, gc.Spec.Value.Equal(decimal.RequireFromString("12.5")))

	require.Len(t, ten.Conditions, 2)
	assert.Equal(t, model.Condition{ID: "max", Parameter: model.ParamPurchaseCount, Operator: model.OpLessOrEqual, Value: "5"}, ten.Conditions[0])
	assert.Equal(t, "ten-percent.1", ten.Conditions[1].ID)
	assert.Equal(t, "sku-1", ten.Conditions[1].Value)

	promote := cfg.Automations[1]
	assert.Equal(t, model.StatusInactive, promote.Status)
	assert.Equal(t, model.SwitchCircle{TargetCircleID: "gold"}, promote.Effect)
}

func TestCompileProgramMissingTrigger(t *testing.T) {
	_, err := compile(t, `
		program: p: {
			circles: c: {}
			automations: a: { circle: "c", effect: { type: "SWITCH_CIRCLE", circle: "c" } }
		}
	`, "program.p")
	require.Error(t, err)

	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "automations.a.trigger", ce.Field)
	assert.Contains(t, err.Error(), "required")
}

func TestCompileProgramUnknownEffect(t *testing.T) {
	_, err := compile(t, `
		program: p: {
			automations: a: { circle: "c", trigger: "SIGNUP", effect: { type: "REFUND" } }
		}
	`, "program.p")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown effect type")
}

func TestCompileProgramCommissionNeedsValue(t *testing.T) {
	_, err := compile(t, `
		program: p: {
			automations: a: {
				circle: "c", trigger: "SIGNUP"
				effect: { type: "GENERATE_COMMISSION", commission: { type: "FIXED" } }
			}
		}
	`, "program.p")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "commission.value")
}

func TestCompileProgramBadConditionValue(t *testing.T) {
	_, err := compile(t, `
		program: p: {
			automations: a: {
				circle: "c", trigger: "SIGNUP"
				effect: { type: "SWITCH_CIRCLE", circle: "d" }
				conditions: [{ parameter: "signup_count", operator: "=", value: [1] }]
			}
		}
	`, "program.p")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "string or number")
}

func TestCompileProgramCUEError(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`program: p: name: "a" & "b"`)
	_, err := CompileProgram(v.LookupPath(cue.ParsePath("program.p")))
	require.Error(t, err)
}
