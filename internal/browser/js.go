package browser

import (
	"fmt"
	"strconv"
)

// stealthScript runs before any page script and hides the most common
// headless automation markers.
const stealthScript = `
Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
window.chrome = window.chrome || { runtime: {} };
Object.defineProperty(navigator, 'languages', { get: () => ['en-US', 'en'] });
Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3, 4, 5] });
`

// jsString renders s as a JavaScript string literal. strconv.Quote escaping
// is a valid JS subset for the selector and phrase inputs used here.
func jsString(s string) string {
	return strconv.Quote(s)
}

func countJS(selector string) string {
	return fmt.Sprintf(`document.querySelectorAll(%s).length`, jsString(selector))
}

func textJS(selector string) string {
	return fmt.Sprintf(`(() => {
	const el = document.querySelector(%s);
	return el ? el.textContent : '';
})()`, jsString(selector))
}

func attrJS(selector, name string) string {
	return fmt.Sprintf(`(() => {
	const el = document.querySelector(%s);
	if (!el) return '';
	return el.getAttribute(%s) || '';
})()`, jsString(selector), jsString(name))
}

func clickByTextJS(selector, phrase string) string {
	return fmt.Sprintf(`(() => {
	const phrase = %s.toLowerCase();
	for (const el of document.querySelectorAll(%s)) {
		const text = (el.innerText || el.textContent || '').trim().toLowerCase();
		if (text.includes(phrase)) {
			el.click();
			return true;
		}
	}
	return false;
})()`, jsString(phrase), jsString(selector))
}

func removeAllJS(selector string) string {
	return fmt.Sprintf(`(() => {
	const els = document.querySelectorAll(%s);
	els.forEach((el) => el.remove());
	return els.length;
})()`, jsString(selector))
}

const bodyTextJS = `document.body ? document.body.innerText : ''`

const frameURLsJS = `Array.from(document.querySelectorAll('iframe')).map((el) => el.src || '')`
