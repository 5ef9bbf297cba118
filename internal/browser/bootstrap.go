package browser

import "github.com/runnerr0/procedura/internal/badge"

const (
	bindingName = "proceduraEmit"
	markerAttr  = "data-procedura-target"
)

// bootstrapJS runs in every page of an attached tab. It reports click,
// input and change events through the binding and tags the event target
// so the host can find it in its DOM snapshot. Values are only reported
// for select elements.
const bootstrapJS = `(() => {
  if (window.__proceduraBootstrapped) return;
  window.__proceduraBootstrapped = true;
  let seq = 0;
  const emit = (type, ev) => {
    const el = ev.target;
    if (!(el instanceof Element) || typeof window.` + bindingName + ` !== 'function') return;
    document.querySelectorAll('[` + markerAttr + `]').forEach((n) => n.removeAttribute('` + markerAttr + `'));
    const marker = String(++seq);
    el.setAttribute('` + markerAttr + `', marker);
    const payload = { type, marker, x: ev.clientX || 0, y: ev.clientY || 0 };
    if (el.tagName === 'SELECT') payload.value = el.options[el.selectedIndex] ? el.options[el.selectedIndex].text : '';
    window.` + bindingName + `(JSON.stringify(payload));
  };
  document.addEventListener('click', (ev) => emit('click', ev), true);
  document.addEventListener('input', (ev) => emit('input', ev), true);
  document.addEventListener('change', (ev) => emit('change', ev), true);
  window.__proceduraIndicator = (visible, label) => {
    let el = document.getElementById('` + badge.IndicatorID + `');
    if (!visible) { if (el) el.remove(); return; }
    if (!el) {
      el = document.createElement('div');
      el.id = '` + badge.IndicatorID + `';
      el.style.cssText = 'position:fixed;top:12px;right:12px;z-index:2147483647;pointer-events:none;background:#ef4444;color:#fff;padding:6px 12px;border-radius:16px;font:13px sans-serif;';
      el.appendChild(document.createElement('span'));
      (document.body || document.documentElement).appendChild(el);
    }
    el.querySelector('span').textContent = label;
  };
})();`

func indicatorJS(visible bool, label string) string {
	return "window.__proceduraIndicator && window.__proceduraIndicator(" + jsBool(visible) + ", " + jsString(label) + ")"
}
