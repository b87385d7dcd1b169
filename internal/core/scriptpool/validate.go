package scriptpool

import (
	"fmt"

	"github.com/dop251/goja"
)

// Validate syntax-checks a script and, for the JS engine, requires it to
// expose a should_inject function before admission to the pool (§4.4
// "Validation"). A script that fails validation is rejected at rule-compile
// time (§7 ScriptInvalid: "rule loaded without script").
func Validate(script, engine string) error {
	if engine != "" && engine != "js" {
		return fmt.Errorf("scriptpool: unsupported engine %q", engine)
	}
	vm := goja.New()
	if _, err := vm.RunString(script); err != nil {
		return fmt.Errorf("scriptpool: syntax error: %w", err)
	}
	fn := vm.Get("should_inject")
	if fn == nil || goja.IsUndefined(fn) || goja.IsNull(fn) {
		return fmt.Errorf("scriptpool: script does not define should_inject")
	}
	if _, ok := goja.AssertFunction(fn); !ok {
		return fmt.Errorf("scriptpool: should_inject is not a function")
	}
	return nil
}
