package opt

import "testing"

func TestZeroIsAbsent(t *testing.T) {
	var o Opt[string]
	if o.IsSet() {
		t.Error("zero Opt should be absent")
	}
	if o.Arg() != nil {
		t.Errorf("Arg() = %v, want nil", o.Arg())
	}
	if got := o.Or("def"); got != "def" {
		t.Errorf("Or = %q, want def", got)
	}
}

func TestSomeFalseIsPresent(t *testing.T) {
	o := Some(false)
	v, ok := o.Get()
	if !ok || v {
		t.Errorf("Get() = %v, %v; want false, true", v, ok)
	}
	if o.Arg() != false {
		t.Errorf("Arg() = %v, want false", o.Arg())
	}
}

func TestNonEmptyAndFromPtr(t *testing.T) {
	if NonEmpty("").IsSet() {
		t.Error("NonEmpty(\"\") should be absent")
	}
	if !NonEmpty("x").IsSet() {
		t.Error("NonEmpty(x) should be present")
	}
	n := 0
	if !FromPtr(&n).IsSet() {
		t.Error("FromPtr(&0) should be present")
	}
	if FromPtr[int](nil).IsSet() {
		t.Error("FromPtr(nil) should be absent")
	}
}
