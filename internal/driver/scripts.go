package driver

// Scripts shared by the workflow for Run. Each is a function body with the
// target element bound to `el`; the return value is coerced to a boolean.
const (
	ScriptClick        = `el.scrollIntoView(); el.click(); return true;`
	ScriptIsChecked    = `return !!el.checked;`
	ScriptForceChecked = `el.checked = true; if (el.onclick) { el.onclick(); } return !!el.checked;`
	ScriptClickChange  = `el.click(); el.dispatchEvent(new Event('change', {bubbles: true})); return !!el.checked;`
	ScriptIsDisplayed  = `const s = window.getComputedStyle(el); return el.offsetHeight !== 0 && s.display !== 'none' && s.visibility !== 'hidden';`
	ScriptIsEnabled    = `return !el.disabled && !el.hasAttribute('disabled');`
)

// ScriptSelectOption selects the option whose label equals the given text in
// a plain <select> and fires change. Use with fmt.Sprintf and a quoted label.
const ScriptSelectOption = `const want = %q;
for (const o of el.options) {
	if (o.text.trim() === want) {
		el.value = o.value;
		el.dispatchEvent(new Event('change', {bubbles: true}));
		return true;
	}
}
return false;`
