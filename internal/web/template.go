package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/drain-monitor/internal/status"
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
	// top-down so the column reads like the tank
	"column": func(sensors []bool) []sensorCell {
		cells := make([]sensorCell, len(sensors))
		for i := range sensors {
			n := len(sensors) - i
			cells[i] = sensorCell{N: n, Active: sensors[n-1]}
		}
		return cells
	},
}).Parse(indexHTML))

type sensorCell struct {
	N      int
	Active bool
}

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Drain Monitor</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.state-error { color: red; font-weight: bold; }
.state-pumping { color: #06c; font-weight: bold; }
.state-filling { color: #c80; }
.state-idle, .state-init { color: #888; }
.connected { color: green; }
.disconnected { color: red; }
.column td { text-align: center; width: 2em; }
.wet { background: #39f; color: white; }
.dry { background: #eee; color: #888; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>
</head>
<body>
<h1>Drain Monitor<span id="live-dot" class="live-dot pending" title="connecting"></span></h1>

<h2>State</h2>
<table>
<tr><th>Controller</th><td id="state" class="state-{{.Doc.State}}">{{.Doc.State}}</td></tr>
<tr><th>Level</th><td id="level">{{.Doc.Level}} / {{.Doc.MaxLevel}}</td></tr>
<tr><th>Sequence</th><td id="sequence">{{.Doc.Sequence}}{{if .Doc.Error}} (error){{end}}</td></tr>
<tr><th>Pump</th><td id="pump">{{.Doc.Pump.State}}{{if .Doc.Pump.Running}}, {{.Doc.Pump.RuntimeS}}s{{end}}</td></tr>
<tr><th>Alarm</th><td id="alarm">{{.Doc.Alarm}}</td></tr>
{{if .Doc.SensorFaults}}<tr><th>Sensor read failures</th><td>{{.Doc.SensorFaults}}</td></tr>{{end}}
</table>
{{if or .Doc.Error (eq .Doc.State "error")}}
<form method="post" action="/api/clear-error"><button type="submit">Clear error</button></form>
{{end}}

<table class="column">
{{range column .Doc.Sensors}}<tr><td id="s{{.N}}" class="{{if .Active}}wet{{else}}dry{{end}}">{{.N}}</td></tr>
{{end}}</table>

<h2>Statistics</h2>
<table>
<tr><th>Cycles today</th><td id="cycles">{{.Doc.Stats.CyclesToday}}</td></tr>
<tr><th>Last cycle</th><td>{{.Doc.Stats.LastCycleS}}s</td></tr>
<tr><th>Average pump run</th><td>{{printf "%.1f" .Doc.Stats.AverageCycleS}}s</td></tr>
<tr><th>Pump time today</th><td>{{.Doc.Stats.TotalRuntimeS}}s</td></tr>
<tr><th>Emergency limit</th><td>{{if .Doc.Stats.EmergencyDuration}}{{printf "%.0f" .Doc.Stats.EmergencyDuration}}s{{else}}-{{end}}</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .Doc.MQTT.Connected}}connected{{else}}disconnected{{end}}">{{if .Doc.MQTT.Connected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Doc.MQTT.Broker}}</td></tr>
{{if .Doc.Network}}<tr><th>Network</th><td>{{.Doc.Network.Status}} ({{.Doc.Network.Type}}{{if .Doc.Network.SSID}}, {{.Doc.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Doc.Network.IP}}</td></tr>{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.Doc.StartTime}}</td></tr>
<tr><th>Session</th><td>{{.Doc.SessionID}}</td></tr>
<tr><th>GPIO driver</th><td>{{.Doc.Config.Driver}}</td></tr>
<tr><th>Poll</th><td>{{.Doc.Config.PollMs}}ms</td></tr>
<tr><th>Debounce</th><td>{{.Doc.Config.DebounceMs}}ms</td></tr>
<tr><th>HTTP</th><td>{{.Doc.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> · <a href="/metrics">metrics</a></p>
<script>
(function() {
  var dot = document.getElementById("live-dot");
  function setDot(cls, title) { dot.className = "live-dot " + cls; dot.title = title; }
  function text(id, v) { var el = document.getElementById(id); if (el) el.textContent = v; }

  function connect() {
    var proto = location.protocol === "https:" ? "wss://" : "ws://";
    var ws = new WebSocket(proto + location.host + "/ws");
    ws.onopen = function() { setDot("ok", "live"); };
    ws.onclose = function() { setDot("err", "offline"); setTimeout(connect, 5000); };
    ws.onmessage = function(ev) {
      try {
        var d = JSON.parse(ev.data);
        text("state", d.state);
        document.getElementById("state").className = "state-" + d.state;
        text("level", d.level + " / " + d.max_level);
        text("sequence", d.sequence + (d.error ? " (error)" : ""));
        text("pump", d.pump.state + (d.pump.running ? ", " + d.pump.runtime_s + "s" : ""));
        text("alarm", d.alarm);
        text("cycles", d.stats.cycles_today);
        for (var i = 0; i < d.sensors.length; i++) {
          var el = document.getElementById("s" + (i + 1));
          if (el) el.className = d.sensors[i] ? "wet" : "dry";
        }
      } catch (e) {}
    };
  }
  connect();
})();
</script>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	data := struct {
		Doc    status.StatusJSON
		Uptime time.Duration
	}{
		Doc:    status.Build(snap),
		Uptime: snap.Uptime(),
	}
	indexTmpl.Execute(w, data)
}
