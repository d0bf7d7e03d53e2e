package script

import (
	"fmt"

	"github.com/dop251/goja"
)

// dangerousGlobals are host-environment names a resolution script must never
// see. Scripts compute state from their input only; host access goes through
// regular resolvables written in Go.
var dangerousGlobals = []string{
	"require",
	"module",
	"exports",
	"process",
	"global",
	"__dirname",
	"__filename",
	"Buffer",
	"setImmediate",
	"clearImmediate",
	"XMLHttpRequest",
	"fetch",
	"WebSocket",
}

// applySandbox strips host globals and freezes the built-ins of a fresh VM
func applySandbox(vm *goja.Runtime) error {
	for _, name := range dangerousGlobals {
		if err := vm.Set(name, goja.Undefined()); err != nil {
			return fmt.Errorf("failed to remove %s: %w", name, err)
		}
	}

	freezeScript := `
		(function() {
			var builtins = [Object, Array, Function, String, Number, Boolean,
				Date, RegExp, Error, Math, JSON];
			for (var i = 0; i < builtins.length; i++) {
				try {
					Object.freeze(builtins[i]);
					if (builtins[i].prototype) {
						Object.freeze(builtins[i].prototype);
					}
				} catch (e) {
					// Not freezable in this runtime; skip
				}
			}
		})()
	`
	if _, err := vm.RunString(freezeScript); err != nil {
		return fmt.Errorf("failed to freeze built-ins: %w", err)
	}
	return nil
}

// resetGlobals deletes everything an evaluation left on the global object so
// the next evaluation starts clean.
func resetGlobals(vm *goja.Runtime) error {
	if vm == nil {
		return fmt.Errorf("vm destroyed")
	}
	resetScript := `
		(function() {
			var keep = [
				'Object', 'Array', 'Function', 'String', 'Number', 'Boolean',
				'Date', 'RegExp', 'Error', 'Math', 'JSON',
				'parseInt', 'parseFloat', 'isNaN', 'isFinite',
				'decodeURI', 'decodeURIComponent', 'encodeURI', 'encodeURIComponent',
				'undefined', 'NaN', 'Infinity', 'eval'
			];
			var globals = Object.getOwnPropertyNames(this);
			for (var i = 0; i < globals.length; i++) {
				if (keep.indexOf(globals[i]) === -1) {
					try {
						delete this[globals[i]];
					} catch (e) {
						// Property not deletable
					}
				}
			}
		})()
	`
	_, err := vm.RunString(resetScript)
	return err
}
