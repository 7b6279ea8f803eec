package browser

// Page-side scripts. Each one is a function expression evaluated with its
// arguments by value. Failures are returned as {error: {name, message}}
// rather than thrown so DOMException names survive the round trip.

const jsErrorShape = `(e) => ({
		name: (e && e.name) || "",
		message: String((e && e.message) || e),
	})`

const jsRegistry = `(window.__privasense = window.__privasense || {dbs: {}, requests: {}, motion: [], seq: 0})`

const scriptHasFeature = `(feature) => {
	switch (feature) {
	case "storage_directory":
		return !!(navigator.storage && typeof navigator.storage.getDirectory === "function");
	case "touch_points":
		return navigator.maxTouchPoints !== undefined;
	case "promise_all_settled":
		return self.Promise !== undefined && self.Promise.allSettled !== undefined;
	case "legacy_blob_save":
		return navigator.msSaveBlob !== undefined;
	case "indexed_db":
		return window.indexedDB !== undefined;
	}
	return false;
}`

const scriptErrorSignature = `() => {
	try {
		parseInt("-1").toFixed(-1);
	} catch (e) {
		return e.message.length;
	}
	return 0;
}`

const scriptStorageDirectory = `async () => {
	const shape = ` + jsErrorShape + `;
	try {
		await navigator.storage.getDirectory();
		return {};
	} catch (e) {
		return {error: shape(e)};
	}
}`

const scriptUsageAndQuota = `() => new Promise((resolve) => {
	const shape = ` + jsErrorShape + `;
	try {
		navigator.webkitTemporaryStorage.queryUsageAndQuota(
			(usage, quota) => resolve({usage, quota}),
			(e) => resolve({error: shape(e)}),
		);
	} catch (e) {
		resolve({error: shape(e)});
	}
})`

const scriptHeapSizeLimit = `() => {
	const memory = window.performance && window.performance.memory;
	return (memory && memory.jsHeapSizeLimit) || 0;
}`

const scriptRequestFileSystem = `(size) => new Promise((resolve) => {
	const shape = ` + jsErrorShape + `;
	if (typeof window.webkitRequestFileSystem !== "function") {
		resolve({unsupported: true});
		return;
	}
	try {
		window.webkitRequestFileSystem(0, size, () => resolve({}), (e) => resolve({error: shape(e)}));
	} catch (e) {
		resolve({error: shape(e)});
	}
})`

const scriptOpenLegacyDatabase = `() => {
	const shape = ` + jsErrorShape + `;
	try {
		window.openDatabase(null, null, null, null);
		return {};
	} catch (e) {
		return {error: shape(e)};
	}
}`

const scriptStorageEstimate = `async () => {
	const shape = ` + jsErrorShape + `;
	if (!navigator.storage || typeof navigator.storage.estimate !== "function") {
		return {unsupported: true};
	}
	try {
		const est = await navigator.storage.estimate();
		return {usage: est.usage || 0, quota: est.quota || 0};
	} catch (e) {
		return {error: shape(e)};
	}
}`

const scriptMotionSupported = `() => {
	if (!window.DeviceMotionEvent) return false;
	const reg = ` + jsRegistry + `;
	if (!reg.motionHooked) {
		reg.motionHooked = true;
		window.addEventListener("devicemotion", (ev) => {
			const a = ev.accelerationIncludingGravity;
			if (!a) return;
			reg.motion.push({x: a.x || 0, y: a.y || 0, z: a.z || 0});
			if (reg.motion.length > 1000) reg.motion.shift();
		});
	}
	return true;
}`

const scriptDrainMotion = `() => {
	const reg = ` + jsRegistry + `;
	const samples = reg.motion;
	reg.motion = [];
	return samples;
}`

// scriptOpenRequest starts indexedDB.open and parks the outcome in the
// registry under a handle. Planned upgrade steps run synchronously inside
// onupgradeneeded and stop at the first failure.
const scriptOpenRequest = `(name, version, steps, suppress, upgrade) => {
	const shape = ` + jsErrorShape + `;
	const reg = ` + jsRegistry + `;
	let request;
	try {
		request = version > 0 ? indexedDB.open(name, version) : indexedDB.open(name);
	} catch (e) {
		return {error: shape(e)};
	}
	const handle = "db" + (++reg.seq);
	reg.requests[handle] = new Promise((resolve) => {
		let settled = false;
		const finish = (v) => {
			if (settled) return;
			settled = true;
			resolve(v);
		};
		request.onupgradeneeded = () => {
			if (!upgrade) return;
			const db = request.result;
			reg.dbs[handle] = db;
			const stores = {};
			const results = [];
			for (const step of steps) {
				try {
					if (step.op === "createObjectStore") {
						stores[step.store] = db.createObjectStore(step.store, {autoIncrement: step.autoIncrement});
					} else if (step.op === "putBlob") {
						stores[step.store].put(new Blob());
					}
					results.push(null);
				} catch (e) {
					results.push(shape(e));
					break;
				}
			}
			finish({type: "upgraded", steps: results});
		};
		request.onsuccess = () => {
			reg.dbs[handle] = request.result;
			finish({type: "success"});
		};
		request.onerror = (ev) => {
			const err = request.error;
			const suppressed = !!err && suppress.includes(err.name);
			if (suppressed) ev.preventDefault();
			finish({type: "error", error: shape(err || new Error("open failed")), suppressed});
		};
	});
	return {handle};
}`

const scriptAwaitRequest = `(handle) => {
	const reg = ` + jsRegistry + `;
	const pending = reg.requests[handle];
	if (!pending) return {type: "error", error: {name: "", message: "unknown request " + handle}};
	return pending.then((v) => {
		delete reg.requests[handle];
		return v;
	});
}`

const scriptCloseDatabase = `(handle) => {
	const reg = ` + jsRegistry + `;
	const db = reg.dbs[handle];
	if (!db) return false;
	db.close();
	delete reg.dbs[handle];
	return true;
}`

const scriptDeleteDatabase = `(name) => new Promise((resolve) => {
	const shape = ` + jsErrorShape + `;
	try {
		const request = indexedDB.deleteDatabase(name);
		request.onsuccess = () => resolve({});
		request.onblocked = () => resolve({});
		request.onerror = () => resolve({error: shape(request.error)});
	} catch (e) {
		resolve({error: shape(e)});
	}
})`
