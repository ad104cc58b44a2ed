package snapshot

// walkScript clears refs left by the previous capture, then tags every visible
// interactive element with a fresh ref in document order.
const walkScript = `(opts) => {
	const attr = opts.refAttr;
	for (const el of document.querySelectorAll('[' + attr + ']')) {
		el.removeAttribute(attr);
	}

	const selector = [
		'input', 'button', 'a', 'select', 'textarea',
		'[role="button"]', '[role="link"]', '[role="textbox"]',
		'[role="searchbox"]', '[role="combobox"]', '[role="tab"]',
		'h1', 'h2', 'h3', 'h4', 'h5', 'h6',
	].join(', ');
	const keep = ['aria-label', 'placeholder', 'type', 'href', 'id', 'name'];
	const viewportHeight = window.innerHeight || document.documentElement.clientHeight;

	const visible = (el) => {
		const rect = el.getBoundingClientRect();
		if (rect.width === 0 || rect.height === 0) return false;
		const style = window.getComputedStyle(el);
		return style.display !== 'none' && style.visibility !== 'hidden';
	};

	const roleOf = (el) => {
		const explicit = el.getAttribute('role');
		if (explicit) return explicit;
		const tag = el.tagName.toLowerCase();
		switch (tag) {
			case 'a': return 'link';
			case 'button': return 'button';
			case 'select': return 'combobox';
			case 'textarea': return 'textbox';
			case 'input': {
				const type = (el.getAttribute('type') || 'text').toLowerCase();
				if (['submit', 'button', 'reset', 'image'].includes(type)) return 'button';
				if (type === 'checkbox' || type === 'radio') return type;
				if (type === 'search') return 'searchbox';
				return 'textbox';
			}
		}
		if (/^h[1-6]$/.test(tag)) return 'heading';
		return 'generic';
	};

	const nameOf = (el) => {
		const secret = el.tagName === 'INPUT' && (el.type || '').toLowerCase() === 'password';
		let name = el.getAttribute('aria-label') || el.innerText || (secret ? '' : el.value) ||
			el.getAttribute('placeholder') || el.getAttribute('title') || el.getAttribute('alt') || '';
		return String(name).replace(/\s+/g, ' ').trim();
	};

	const elements = [];
	let counter = 0;
	for (const el of document.querySelectorAll(selector)) {
		if (el.tagName === 'INPUT' && (el.type || '').toLowerCase() === 'hidden') continue;
		if (!visible(el)) continue;

		const ref = 'e' + (++counter);
		el.setAttribute(attr, ref);

		const attrs = {};
		for (const key of keep) {
			const value = el.getAttribute(key);
			if (value) attrs[key] = value;
		}

		const label = nameOf(el);
		const name = label.length > opts.nameLimit ? label.slice(0, opts.nameLimit) + '...' : label;

		const rect = el.getBoundingClientRect();
		elements.push({
			ref: ref,
			role: roleOf(el),
			name: name,
			label: label,
			tag: el.tagName.toLowerCase(),
			attrs: attrs,
			inViewport: rect.bottom > 0 && rect.top < viewportHeight,
			y: rect.top + window.scrollY,
		});
	}

	return {title: document.title, url: location.href, elements: elements};
}`

const bodyTextScript = `() => {
	const body = document.body;
	if (!body) return '';
	return (body.textContent || '').trim().slice(0, 500);
}`
