package browser

import (
	"fmt"
)

// Every hook is idempotent on install and leaves nothing behind on restore.
const (
	historyBinding  = "__overlayHistory"
	popStateBinding = "__overlayPopState"
	mutationBinding = "__overlayMutation"
	buttonBinding   = "__overlayButton"
)

var historyInstall = fmt.Sprintf(`(() => {
	if (window.__overlayHistoryRestore) return;
	const push = history.pushState, replace = history.replaceState;
	const notify = () => { try { window.%[1]s(location.href); } catch (e) {} };
	history.pushState = function() { const r = push.apply(this, arguments); notify(); return r; };
	history.replaceState = function() { const r = replace.apply(this, arguments); notify(); return r; };
	window.__overlayHistoryRestore = () => {
		history.pushState = push;
		history.replaceState = replace;
		delete window.__overlayHistoryRestore;
	};
})()`, historyBinding)

const historyRestore = `window.__overlayHistoryRestore && window.__overlayHistoryRestore()`

var popStateInstall = fmt.Sprintf(`(() => {
	if (window.__overlayPopStateRestore) return;
	const onPop = () => { try { window.%[1]s(location.href); } catch (e) {} };
	window.addEventListener('popstate', onPop);
	window.__overlayPopStateRestore = () => {
		window.removeEventListener('popstate', onPop);
		delete window.__overlayPopStateRestore;
	};
})()`, popStateBinding)

const popStateRestore = `window.__overlayPopStateRestore && window.__overlayPopStateRestore()`

// Mutation bursts are coalesced into one binding call per 100ms.
var mutationInstall = fmt.Sprintf(`(() => {
	if (window.__overlayMutationRestore) return;
	let pending = false;
	const observer = new MutationObserver(() => {
		if (pending) return;
		pending = true;
		setTimeout(() => {
			pending = false;
			try { window.%[1]s(location.href); } catch (e) {}
		}, 100);
	});
	const start = () => observer.observe(document.body, {childList: true, subtree: true});
	if (document.body) start(); else document.addEventListener('DOMContentLoaded', start, {once: true});
	window.__overlayMutationRestore = () => {
		observer.disconnect();
		document.removeEventListener('DOMContentLoaded', start);
		delete window.__overlayMutationRestore;
	};
})()`, mutationBinding)

const mutationRestore = `window.__overlayMutationRestore && window.__overlayMutationRestore()`

// buttonInstall defines window.__overlayRender(view) which draws the floating
// buttons. Clicks come back through the button binding with the button name.
var buttonInstall = fmt.Sprintf(`(() => {
	if (window.__overlayRender) return;
	const colors = {primary: '#1677ff', loading: '#1677ff', busy: '#ffe58f',
		success: '#b7eb8f', failure: '#ffa39e', offline: '#d9d9d9'};
	const press = (name) => { try { window.%[1]s(name); } catch (e) {} };
	const make = (name) => {
		const b = document.createElement('button');
		b.dataset.overlay = name;
		b.style.cssText = 'display:block;width:40px;height:40px;margin-top:8px;border:none;' +
			'border-radius:50%%;box-shadow:0 2px 8px rgba(0,0,0,.25);cursor:pointer;color:#fff';
		b.addEventListener('click', () => press(name));
		return b;
	};
	let root, analyze, exp, report;
	const mount = () => {
		if (root && root.isConnected) return;
		root = document.createElement('div');
		root.id = '__overlay-root';
		root.style.cssText = 'position:fixed;right:24px;z-index:2147483647';
		analyze = make('analyze'); exp = make('export'); report = make('report');
		exp.title = 'Download emails'; exp.textContent = '@'; exp.style.background = '#91caff';
		report.title = 'Create report'; report.textContent = '+'; report.style.background = '#1677ff';
		root.append(exp, analyze, report);
		document.documentElement.appendChild(root);
	};
	window.__overlayRender = (view) => {
		mount();
		root.style.bottom = view.bottomInset + 'px';
		analyze.style.display = view.visible ? 'block' : 'none';
		analyze.title = view.tooltip;
		analyze.disabled = view.disabled;
		analyze.style.opacity = view.disabled ? '0.5' : '1';
		analyze.style.background = colors[view.tone] || colors.primary;
		analyze.textContent = view.tone === 'loading' || view.tone === 'busy' ? '…' : '◔';
		exp.style.display = view.exportVisible ? 'block' : 'none';
	};
	window.__overlayButtonRestore = () => {
		if (root) root.remove();
		delete window.__overlayRender;
		delete window.__overlayButtonRestore;
	};
})()`, buttonBinding)

const buttonRestore = `window.__overlayButtonRestore && window.__overlayButtonRestore()`
