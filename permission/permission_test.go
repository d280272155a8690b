package permission_test

import (
	"testing"

	"github.com/fbarrella/reson8/permission"
)

func TestCheckBitwise(t *testing.T) {
	tests := []struct {
		name string
		mask permission.Mask
		flag permission.Flag
		want bool
	}{
		{"connect|speak passes speak", permission.Connect | permission.Speak, permission.Speak, true},
		{"connect|speak fails manage roles", permission.Connect | permission.Speak, permission.ManageRoles, false},
		{"admin passes kick user", permission.Admin, permission.KickUser, true},
		{"admin passes every flag", permission.Admin, permission.BanUser, true},
		{"zero mask fails connect", 0, permission.Connect, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := permission.Check(tc.mask, tc.flag)
			if got != tc.want {
				t.Errorf("Check(%v, %v) = %v, want %v", tc.mask, tc.flag, got, tc.want)
			}
		})
	}
}

func TestEffectiveIsBitwiseOr(t *testing.T) {
	eval := permission.NewEvaluator()

	mask := eval.Effective([]uint64{uint64(permission.Connect), uint64(permission.Speak)})

	if !permission.Has(mask, permission.Connect) {
		t.Error("expected effective mask to carry CONNECT")
	}
	if !permission.Has(mask, permission.Speak) {
		t.Error("expected effective mask to carry SPEAK")
	}
	if permission.Has(mask, permission.ManageRoles) {
		t.Error("did not expect effective mask to carry MANAGE_ROLES")
	}
}

func TestHasLaw(t *testing.T) {
	// hasPermission(m, f) iff (m | ADMIN_MASK) == m or (m & f) == f
	const f = permission.SendMessages
	masks := []permission.Mask{0, permission.SendMessages, permission.Admin, permission.Connect | permission.Admin}

	for _, m := range masks {
		want := (m|permission.Admin) == m || permission.Has(m, f)
		got := permission.Check(m, f)
		if got != want {
			t.Errorf("Check(%v, SEND_MESSAGES) = %v, want %v per law", m, got, want)
		}
	}
}
