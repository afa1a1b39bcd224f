// internal/browser/scripts.go
package browser

import (
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/gauntlet-cli/internal/engine"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// refAttr is stamped on every element handed to the engine.
const refAttr = "data-gx-ref"

// changeBinding is the runtime binding the mutation observer calls.
const changeBinding = "__gauntletChanged"

// jsArg renders v as a JavaScript literal.
func jsArg(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

func refSelector(ref string) string {
	return fmt.Sprintf(`[%s=%s]`, refAttr, jsArg(ref))
}

const elementsJS = `(function(sel, within, visibleOnly) {
  let root = document;
  if (within) {
    root = document.querySelector('[data-gx-ref="' + within + '"]');
    if (!root) throw new Error('stale ref ' + within);
  }
  window.__gxSeq = window.__gxSeq || 0;
  const visible = (el) => {
    const s = getComputedStyle(el);
    if (s.display === 'none' || s.visibility === 'hidden' || parseFloat(s.opacity) === 0) return false;
    const r = el.getBoundingClientRect();
    return r.width > 0 && r.height > 0;
  };
  const zIndex = (el) => {
    for (let n = el; n && n !== document.documentElement; n = n.parentElement) {
      const z = parseInt(getComputedStyle(n).zIndex, 10);
      if (!isNaN(z)) return z;
    }
    return 0;
  };
  const out = [];
  root.querySelectorAll(sel).forEach((el) => {
    const vis = visible(el);
    if (visibleOnly && !vis) return;
    let ref = el.getAttribute('data-gx-ref');
    if (!ref) {
      ref = 'gx' + (++window.__gxSeq);
      el.setAttribute('data-gx-ref', ref);
    }
    const attrs = {};
    for (const a of el.attributes) attrs[a.name] = a.value;
    out.push({
      ref: ref,
      tag: el.tagName.toLowerCase(),
      text: (el.innerText || el.textContent || '').trim().slice(0, 4000),
      value: typeof el.value === 'string' ? el.value : '',
      attrs: attrs,
      visible: vis,
      z: zIndex(el),
    });
  });
  return out;
})(%s, %s, %t)`

func elementsScript(q engine.Query) string {
	return fmt.Sprintf(elementsJS, jsArg(q.Selector), jsArg(q.Within), q.VisibleOnly)
}

const bodyTextJS = `document.body ? document.body.innerText : ""`

const snapshotJS = `document.documentElement ? document.documentElement.outerHTML : ""`

// clickJS is the fallback when a native click cannot be dispatched, for
// example when the node has no box yet.
const clickJS = `(function(sel) {
  const el = document.querySelector(sel);
  if (!el) return false;
  el.click();
  return true;
})(%s)`

func clickScript(ref string) string {
	return fmt.Sprintf(clickJS, jsArg(refSelector(ref)))
}

// fillJS sets the value the way a framework-bound input expects it, through
// the native setter followed by input and change events.
const fillJS = `(function(sel, text) {
  const el = document.querySelector(sel);
  if (!el) return false;
  const proto = el.tagName === 'TEXTAREA' ? HTMLTextAreaElement.prototype : HTMLInputElement.prototype;
  const setter = Object.getOwnPropertyDescriptor(proto, 'value').set;
  setter.call(el, text);
  el.dispatchEvent(new Event('input', { bubbles: true }));
  el.dispatchEvent(new Event('change', { bubbles: true }));
  return el.value === text;
})(%s, %s)`

func fillScript(ref, text string) string {
	return fmt.Sprintf(fillJS, jsArg(refSelector(ref)), jsArg(text))
}

const valueJS = `(function(sel) {
  const el = document.querySelector(sel);
  return el && typeof el.value === 'string' ? el.value : null;
})(%s)`

func valueScript(ref string) string {
	return fmt.Sprintf(valueJS, jsArg(refSelector(ref)))
}

// scrollJS brings the node into view and scrolls its own content to the end,
// which is what lazy option lists inside a modal wait for.
const scrollJS = `(function(sel) {
  const el = document.querySelector(sel);
  if (!el) return false;
  el.scrollIntoView({ block: 'center' });
  el.scrollTop = el.scrollHeight;
  return true;
})(%s)`

func scrollScript(ref string) string {
	return fmt.Sprintf(scrollJS, jsArg(refSelector(ref)))
}

const storageReadJS = `(function(area, key) {
  try {
    const v = window[area].getItem(key);
    return v === null ? { found: false } : { found: true, value: v };
  } catch (e) {
    return { found: false, error: String(e) };
  }
})(%s, %s)`

func storageReadScript(area engine.StorageArea, key string) string {
	return fmt.Sprintf(storageReadJS, jsArg(area.String()), jsArg(key))
}

const storageDumpJS = `(function(area) {
  const out = {};
  try {
    const s = window[area];
    for (let i = 0; i < s.length; i++) {
      const k = s.key(i);
      out[k] = s.getItem(k);
    }
  } catch (e) {}
  return out;
})(%s)`

func storageDumpScript(area engine.StorageArea) string {
	return fmt.Sprintf(storageDumpJS, jsArg(area.String()))
}

// observerJS is installed on every new document. It reports DOM mutations
// that can move the stage indicator through the change binding, coalesced
// to one call per animation-ish tick.
var observerJS = strings.ReplaceAll(`(() => {
  if (window.__gxObserved) return;
  window.__gxObserved = true;
  let pending = false;
  const notify = () => {
    if (pending || typeof window.BINDING !== 'function') return;
    pending = true;
    setTimeout(() => {
      pending = false;
      try { window.BINDING(''); } catch (e) {}
    }, 25);
  };
  const start = () => new MutationObserver(notify).observe(document.documentElement, {
    subtree: true,
    childList: true,
    characterData: true,
    attributes: true,
    attributeFilter: ['class', 'style', 'hidden', 'data-step', 'aria-valuenow'],
  });
  if (document.documentElement) start();
  else document.addEventListener('DOMContentLoaded', start);
})();`, "BINDING", changeBinding)

// storageResult mirrors the object returned by storageReadJS.
type storageResult struct {
	Found bool   `json:"found"`
	Value string `json:"value"`
	Error string `json:"error"`
}
