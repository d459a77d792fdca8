package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/solenoid-controller/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"ohms": func(r float64) string {
		if r < 0 {
			return "-"
		}
		return fmt.Sprintf("%.1f Ω", r)
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Solenoid Controller</title>
<style>
body { font-family: monospace; max-width: 720px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
.CONNECTED { color: green; }
.NOT_CONNECTED { color: #888; }
.SHORT_CIRCUIT { color: red; font-weight: bold; }
.connected { color: green; }
.disconnected { color: red; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>
</head>
<body>
<h1>Solenoid Controller: {{.Config.Device}}<span id="live-dot" class="live-dot pending" title="connecting"></span></h1>

<h2>Controller</h2>
<table>
<tr><th>Ready</th><td id="ready">{{if .Controller.Ready}}yes{{else}}calibrating{{end}}</td></tr>
<tr><th>Current</th><td id="current">{{printf "%.3f" .Controller.Current}} A</td></tr>
<tr><th>Probe</th><td id="probe">{{.Controller.Probe}} port {{.Controller.ProbePort}} cycle {{.Controller.ProbeCycle}}</td></tr>
</table>

<h2>Ports</h2>
<table id="ports">
<tr><th>Port</th><th>State</th><th>Duty</th><th>Coil</th><th>Resistance</th><th>Indicator</th></tr>
{{range .Ports}}<tr><td>{{.Port}}</td><td>{{.State}}</td><td>{{printf "%.2f" .Duty}}</td><td class="{{.Coil}}">{{.Coil}}</td><td>{{ohms .Resistance}}</td><td>{{.Indicator}}</td></tr>
{{end}}</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
</table>

<h2>Event Counts</h2>
<table>
<tr><th>Triggers</th><td>{{.Counts.Triggers}}</td></tr>
<tr><th>Releases</th><td>{{.Counts.Releases}}</td></tr>
<tr><th>Over-current</th><td>{{.Counts.OverCurrent}}</td></tr>
<tr><th>Short circuit</th><td>{{.Counts.ShortCircuit}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Current limit</th><td>{{.Config.CurrentMax}} A</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
{{if .Config.Simulated}}<tr><th>Hardware</th><td>simulated</td></tr>{{end}}
</table>

<p><a href="/index.json">JSON</a></p>
<script>
(function() {
  var dot = document.getElementById("live-dot");
  var ports = document.getElementById("ports");

  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }

  function ohms(r) { return r < 0 ? "-" : r.toFixed(1) + " Ω"; }

  function render(s) {
    document.getElementById("ready").textContent = s.ready ? "yes" : "calibrating";
    document.getElementById("current").textContent = s.current.toFixed(3) + " A";
    document.getElementById("probe").textContent = s.probe.state + " port " + s.probe.port + " cycle " + s.probe.cycle;
    for (var i = 0; i < s.ports.length; i++) {
      var p = s.ports[i], row = ports.rows[i + 1];
      if (!row) continue;
      row.cells[1].textContent = p.state;
      row.cells[2].textContent = p.duty.toFixed(2);
      row.cells[3].textContent = p.coil;
      row.cells[3].className = p.coil;
      row.cells[4].textContent = ohms(p.resistance);
      row.cells[5].textContent = p.indicator;
    }
  }

  function connect() {
    var proto = location.protocol === "https:" ? "wss://" : "ws://";
    var ws = new WebSocket(proto + location.host + "/ws");
    ws.onopen = function() { setDot("ok", "live"); };
    ws.onmessage = function(ev) {
      try { render(JSON.parse(ev.data).status); } catch (e) {}
    };
    ws.onclose = function() {
      setDot("err", "offline");
      setTimeout(connect, 5000);
    };
  }
  connect();
})();
</script>
</body>
</html>
`

type portRow struct {
	Port       int
	State      string
	Duty       float64
	Coil       string
	Resistance float64
	Indicator  string
}

func renderHTML(w io.Writer, snap status.Snapshot) {
	rows := make([]portRow, len(snap.Controller.Ports))
	for i, p := range snap.Controller.Ports {
		rows[i] = portRow{
			Port:       i,
			State:      p.State.String(),
			Duty:       p.Duty,
			Coil:       p.Coil.String(),
			Resistance: p.Resistance,
			Indicator:  "OFF",
		}
		if i < len(snap.Indicators) {
			rows[i].Indicator = snap.Indicators[i].String()
		}
	}

	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
		Ports  []portRow
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
		Ports:    rows,
	}
	indexTmpl.Execute(w, data)
}
