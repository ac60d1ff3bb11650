package http

import nethttp "net/http"

func dashboardHandler(w nethttp.ResponseWriter, r *nethttp.Request) {
	if r.URL.Path != "/" {
		nethttp.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(nethttp.StatusOK)
	_, _ = w.Write([]byte(dashboardHTML))
}

func faviconHandler(w nethttp.ResponseWriter, _ *nethttp.Request) {
	w.WriteHeader(nethttp.StatusNoContent)
}

const dashboardHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>Report Download Panel</title>
  <style>
    :root {
      --blue: #0e5d8f;
      --blue-2: #0971b2;
      --bg: #f7f7f7;
      --paper: #fff;
      --text: #333;
      --muted: #777;
      --line: #ddd;
      --head: #f0f0f0;
      --ok-bg: #dff0d8;
      --ok-text: #3c763d;
      --err-bg: #f2dede;
      --err-text: #a94442;
    }
    * { box-sizing: border-box; }
    body { margin: 0; font-family: "Segoe UI", Arial, sans-serif; background: var(--bg); color: var(--text); }
    header { background: var(--blue); color: #fff; padding: 12px 20px; }
    header h1 { margin: 0; font-size: 18px; font-weight: 600; }
    main { max-width: 1100px; margin: 0 auto; padding: 16px 20px 60px; }
    section { background: var(--paper); border: 1px solid var(--line); border-radius: 4px; margin-bottom: 16px; }
    section h2 { margin: 0; padding: 10px 14px; background: var(--head); border-bottom: 1px solid var(--line); font-size: 14px; }
    .body { padding: 14px; }
    label { display: block; font-size: 12px; color: var(--muted); margin: 8px 0 2px; }
    input, select { width: 100%; padding: 6px 8px; border: 1px solid var(--line); border-radius: 3px; font-size: 13px; }
    .grid { display: grid; grid-template-columns: 1fr 1fr 1fr; gap: 0 14px; }
    table { width: 100%; border-collapse: collapse; font-size: 13px; margin-top: 8px; }
    th, td { text-align: left; padding: 6px 8px; border-bottom: 1px solid var(--line); }
    th { background: var(--head); font-weight: 600; }
    button { background: var(--blue-2); color: #fff; border: 0; border-radius: 3px; padding: 7px 14px; font-size: 13px; cursor: pointer; }
    button.small { padding: 3px 8px; font-size: 12px; }
    button.plain { background: #888; }
    button:disabled { background: #bbb; cursor: default; }
    .actions { margin-top: 12px; display: flex; gap: 8px; }
    #status-log { background: #1e1e1e; color: #ccc; font-family: monospace; font-size: 12px; padding: 10px; height: 220px; overflow-y: auto; border-radius: 3px; }
    .log-info { color: #9cdcfe; }
    .log-success { color: #6a9955; }
    .log-error { color: #f48771; }
    .badge { display: inline-block; padding: 2px 8px; border-radius: 10px; font-size: 11px; }
    .badge.ok { background: var(--ok-bg); color: var(--ok-text); }
    .badge.err { background: var(--err-bg); color: var(--err-text); }
    .muted { color: var(--muted); }
  </style>
</head>
<body>
  <header><h1>Report Download Panel <span id="stream-state" class="badge">closed</span></h1></header>
  <main>
    <section>
      <h2>Download Request</h2>
      <div class="body">
        <div class="grid">
          <div><label>Email</label><input id="email" type="email" autocomplete="off" /></div>
          <div><label>Password</label><input id="password" type="password" /></div>
          <div><label>OTP Secret</label><input id="otp" type="password" /></div>
          <div><label>Driver Path</label><input id="driver-path" /></div>
          <div><label>Download Base Path</label><input id="base-path" /></div>
          <div><label>Regions</label><select id="regions" multiple size="3"></select></div>
        </div>
        <table id="report-table">
          <thead><tr><th>Report Type</th><th>From</th><th>To</th><th>Chunk (days)</th><th></th></tr></thead>
          <tbody></tbody>
        </table>
        <div class="actions">
          <button id="add-row" class="plain small" type="button">Add Report</button>
          <button id="start" type="button">Start Download</button>
        </div>
      </div>
    </section>

    <section>
      <h2>Active Downloads</h2>
      <div class="body">
        <table id="sessions">
          <thead><tr><th>Started</th><th>Elapsed</th><th>Reports</th><th></th></tr></thead>
          <tbody><tr><td colspan="4" class="muted">No active downloads.</td></tr></tbody>
        </table>
      </div>
    </section>

    <section>
      <h2>Status <button id="clear-log" class="plain small" type="button" style="float:right">Clear</button></h2>
      <div class="body"><div id="status-log"></div></div>
    </section>

    <section>
      <h2>Configurations</h2>
      <div class="body">
        <div class="grid">
          <div><label>Saved Configs</label><select id="config-list"></select></div>
          <div><label>Save As</label><input id="config-name" /></div>
          <div style="align-self:end" class="actions">
            <button id="config-load" class="small" type="button">Load</button>
            <button id="config-save" class="small" type="button">Save</button>
            <button id="config-delete" class="plain small" type="button">Delete</button>
          </div>
        </div>
      </div>
    </section>

    <section>
      <h2>Schedules</h2>
      <div class="body">
        <div class="grid">
          <div><label>Config</label><select id="sched-config"></select></div>
          <div><label>Run At</label><input id="sched-time" type="datetime-local" /></div>
          <div style="align-self:end"><button id="sched-create" class="small" type="button">Schedule</button></div>
        </div>
        <table id="sched-table">
          <thead><tr><th>Config</th><th>Next Run</th><th>Trigger</th><th></th></tr></thead>
          <tbody></tbody>
        </table>
      </div>
    </section>

    <section>
      <h2>Download History</h2>
      <div class="body">
        <div id="history-summary" class="muted"></div>
        <table id="history"><thead></thead><tbody></tbody></table>
      </div>
    </section>
  </main>

  <script>
    const q = (s) => document.querySelector(s);
    const el = (id) => document.getElementById(id);

    let reportOptions = { reports: [], regions: {} };
    let lastHistorySeq = -1;
    let draftTimer = null;

    async function getJSON(url, opts) {
      const r = await fetch(url, opts);
      const body = await r.json().catch(() => ({}));
      if (!r.ok) { throw new Error(body.error || ('HTTP ' + r.status)); }
      return body;
    }

    function reportRow(spec) {
      spec = spec || {};
      const tr = document.createElement('tr');
      const typeTd = document.createElement('td');
      const sel = document.createElement('select');
      sel.className = 'report-type';
      const blank = document.createElement('option');
      blank.value = '';
      blank.textContent = '-- select --';
      sel.appendChild(blank);
      (reportOptions.reports || []).forEach((name) => {
        const o = document.createElement('option');
        o.value = name;
        o.textContent = name;
        if (name === spec.report_type) { o.selected = true; }
        sel.appendChild(o);
      });
      typeTd.appendChild(sel);

      const mk = (cls, type, value) => {
        const td = document.createElement('td');
        const input = document.createElement('input');
        input.className = cls;
        input.type = type;
        input.value = value || '';
        td.appendChild(input);
        return td;
      };

      const rmTd = document.createElement('td');
      const rm = document.createElement('button');
      rm.type = 'button';
      rm.className = 'plain small';
      rm.textContent = 'Remove';
      rm.addEventListener('click', () => { tr.remove(); scheduleDraftSave(); });
      rmTd.appendChild(rm);

      tr.appendChild(typeTd);
      tr.appendChild(mk('from-date', 'date', spec.from_date));
      tr.appendChild(mk('to-date', 'date', spec.to_date));
      tr.appendChild(mk('chunk-size', 'number', spec.chunk_size || '5'));
      tr.appendChild(rmTd);
      q('#report-table tbody').appendChild(tr);
    }

    function gatherForm() {
      const reports = [];
      q('#report-table tbody').querySelectorAll('tr').forEach((tr) => {
        reports.push({
          report_type: tr.querySelector('.report-type').value,
          from_date: tr.querySelector('.from-date').value,
          to_date: tr.querySelector('.to-date').value,
          chunk_size: tr.querySelector('.chunk-size').value
        });
      });
      const regions = Array.from(el('regions').selectedOptions).map((o) => o.value);
      return {
        email: el('email').value,
        password: el('password').value,
        otp_secret: el('otp').value,
        driver_path: el('driver-path').value,
        download_base_path: el('base-path').value,
        reports: reports,
        regions: regions
      };
    }

    function fillForm(snap) {
      el('email').value = snap.email || '';
      el('password').value = snap.password || '';
      el('otp').value = snap.otp_secret || '';
      el('driver-path').value = snap.driver_path || '';
      el('base-path').value = snap.download_base_path || '';
      q('#report-table tbody').innerHTML = '';
      (snap.reports || []).forEach(reportRow);
      if (!(snap.reports || []).length) { reportRow(); }
      Array.from(el('regions').options).forEach((o) => {
        o.selected = (snap.regions || []).indexOf(o.value) >= 0;
      });
    }

    function scheduleDraftSave() {
      clearTimeout(draftTimer);
      draftTimer = setTimeout(() => {
        fetch('/api/v1/draft', {
          method: 'PUT',
          headers: { 'Content-Type': 'application/json' },
          body: JSON.stringify({ payload: JSON.stringify(gatherForm()) })
        });
      }, 500);
    }

    async function refreshOptions() {
      const body = await getJSON('/api/v1/reports/options');
      reportOptions = body.data || reportOptions;
      el('regions').innerHTML = '';
      Object.keys(reportOptions.regions || {}).forEach((code) => {
        const o = document.createElement('option');
        o.value = code;
        o.textContent = reportOptions.regions[code];
        el('regions').appendChild(o);
      });
    }

    async function refreshSessions() {
      const body = await getJSON('/api/v1/download/sessions');
      const tbody = q('#sessions tbody');
      tbody.innerHTML = '';
      if (!body.data.length) {
        tbody.innerHTML = '<tr><td colspan="4" class="muted">No active downloads.</td></tr>';
        return;
      }
      body.data.forEach((row) => {
        const tr = document.createElement('tr');
        const reports = (row.reports || []).map((r) => r.report_type).join(', ');
        tr.innerHTML = '<td>' + new Date(row.started_at).toLocaleTimeString() + '</td>' +
          '<td>' + row.elapsed + '</td><td>' + reports + '</td>';
        const td = document.createElement('td');
        const btn = document.createElement('button');
        btn.type = 'button';
        btn.className = 'plain small';
        btn.textContent = row.expanded ? 'Collapse' : 'Expand';
        btn.addEventListener('click', () => {
          fetch('/api/v1/download/sessions/' + row.id + '/toggle', { method: 'POST' });
        });
        td.appendChild(btn);
        tr.appendChild(td);
        tbody.appendChild(tr);
        if (row.expanded) {
          const detail = document.createElement('tr');
          const cells = (row.reports || []).map((r) =>
            r.report_type + ' (' + r.from_date + ' to ' + r.to_date + ', chunk ' + r.chunk_size + ')').join('<br>');
          detail.innerHTML = '<td colspan="4" class="muted">' + cells + '</td>';
          tbody.appendChild(detail);
        }
      });
    }

    async function refreshStatus() {
      const body = await getJSON('/api/v1/download/status');
      const d = body.data;
      el('start').disabled = d.busy;
      const badge = el('stream-state');
      badge.textContent = d.stream_state;
      badge.className = 'badge ' + (d.stream_state === 'open' ? 'ok' : 'err');
      const log = el('status-log');
      log.innerHTML = d.entries.map((e) => {
        const cls = e.level === 'error' ? 'log-error' : (e.level === 'success' ? 'log-success' : 'log-info');
        return '<div class="' + cls + '">' + e.message + '</div>';
      }).join('');
      log.scrollTop = log.scrollHeight;
      if (d.history_seq !== lastHistorySeq) {
        lastHistorySeq = d.history_seq;
        refreshHistory().catch(() => {});
      }
    }

    async function refreshConfigs() {
      const body = await getJSON('/api/v1/configs');
      ['config-list', 'sched-config'].forEach((id) => {
        const sel = el(id);
        sel.innerHTML = '';
        body.data.forEach((name) => {
          const o = document.createElement('option');
          o.value = name;
          o.textContent = name;
          sel.appendChild(o);
        });
      });
    }

    async function refreshSchedules() {
      const body = await getJSON('/api/v1/schedules');
      const tbody = q('#sched-table tbody');
      tbody.innerHTML = '';
      body.data.forEach((s) => {
        const tr = document.createElement('tr');
        tr.innerHTML = '<td>' + s.config_name + '</td><td>' + s.next_run_time + '</td><td>' + s.trigger + '</td>';
        const td = document.createElement('td');
        const btn = document.createElement('button');
        btn.type = 'button';
        btn.className = 'plain small';
        btn.textContent = 'Cancel';
        btn.addEventListener('click', async () => {
          await fetch('/api/v1/schedules/' + s.id, { method: 'DELETE' });
          refreshSchedules();
        });
        td.appendChild(btn);
        tr.appendChild(td);
        tbody.appendChild(tr);
      });
    }

    async function refreshHistory() {
      const body = await getJSON('/api/v1/history');
      const counts = body.meta.status_counts || {};
      el('history-summary').textContent = body.meta.count + ' entries' +
        (counts.success ? ', ' + counts.success + ' success' : '') +
        (counts.error ? ', ' + counts.error + ' error' : '');
      const rows = body.data || [];
      const thead = q('#history thead');
      const tbody = q('#history tbody');
      thead.innerHTML = '';
      tbody.innerHTML = '';
      if (!rows.length) { return; }
      const cols = Object.keys(rows[0]);
      thead.innerHTML = '<tr>' + cols.map((c) => '<th>' + c + '</th>').join('') + '</tr>';
      rows.forEach((row) => {
        const tr = document.createElement('tr');
        tr.innerHTML = cols.map((c) => '<td>' + (row[c] == null ? '-' : row[c]) + '</td>').join('');
        tbody.appendChild(tr);
      });
    }

    el('add-row').addEventListener('click', () => { reportRow(); scheduleDraftSave(); });
    el('clear-log').addEventListener('click', () => fetch('/api/v1/download/status', { method: 'DELETE' }));

    el('start').addEventListener('click', async () => {
      try {
        await getJSON('/api/v1/download/start', {
          method: 'POST',
          headers: { 'Content-Type': 'application/json' },
          body: JSON.stringify(gatherForm())
        });
      } catch (err) {
        alert(err.message);
      }
      refreshStatus().catch(() => {});
    });

    el('config-save').addEventListener('click', async () => {
      const name = el('config-name').value.trim();
      if (!name) { alert('Configuration name is required.'); return; }
      await getJSON('/api/v1/configs', {
        method: 'POST',
        headers: { 'Content-Type': 'application/json' },
        body: JSON.stringify({ name: name, config: gatherForm() })
      });
      refreshConfigs();
    });

    el('config-load').addEventListener('click', async () => {
      const name = el('config-list').value;
      if (!name) { return; }
      const body = await getJSON('/api/v1/configs/' + encodeURIComponent(name));
      fillForm(body.data);
    });

    el('config-delete').addEventListener('click', async () => {
      const name = el('config-list').value;
      if (!name) { return; }
      await fetch('/api/v1/configs/' + encodeURIComponent(name), { method: 'DELETE' });
      refreshConfigs();
    });

    el('sched-create').addEventListener('click', async () => {
      try {
        await getJSON('/api/v1/schedules', {
          method: 'POST',
          headers: { 'Content-Type': 'application/json' },
          body: JSON.stringify({
            config_name: el('sched-config').value,
            trigger_type: 'date',
            run_datetime: el('sched-time').value
          })
        });
        refreshSchedules();
      } catch (err) {
        alert(err.message);
      }
    });

    document.addEventListener('input', (ev) => {
      if (ev.target.closest('main')) { scheduleDraftSave(); }
    });

    async function boot() {
      await refreshOptions().catch(() => {});
      const draft = await getJSON('/api/v1/draft').catch(() => null);
      if (draft && draft.data.exists) {
        try { fillForm(JSON.parse(draft.data.payload)); } catch (e) { reportRow(); }
      } else {
        reportRow();
      }
      refreshConfigs().catch(() => {});
      refreshSchedules().catch(() => {});
      refreshHistory().catch(() => {});
      setInterval(() => { refreshSessions().catch(() => {}); refreshStatus().catch(() => {}); }, 1000);
    }
    boot();
  </script>
</body>
</html>
`
