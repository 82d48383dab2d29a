package httpapi

import (
	"html/template"
	"net/http"
	"sort"
)

const dashboardTemplate = `<!DOCTYPE html>
<html>
<head>
<title>casesync</title>
<style>
body { font-family: -apple-system, sans-serif; margin: 2rem; color: #1f2430; }
h1 { font-size: 1.4rem; }
table { border-collapse: collapse; margin-top: 1rem; }
th, td { border: 1px solid #d4d8e0; padding: 0.4rem 0.9rem; text-align: left; }
th { background: #f2f4f8; }
.empty { color: #7a8194; margin-top: 1rem; }
</style>
</head>
<body>
<h1>casesync &mdash; live rooms</h1>
{{if .Rooms}}
<table>
<tr><th>Case</th><th>Sessions</th></tr>
{{range .Rooms}}<tr><td>{{.CaseID}}</td><td>{{.Sessions}}</td></tr>
{{end}}
</table>
{{else}}
<p class="empty">No live sessions.</p>
{{end}}
</body>
</html>
`

var dashboardPage = template.Must(template.New("dashboard").Parse(dashboardTemplate))

type dashboardRoom struct {
	CaseID   string
	Sessions int
}

func (s *Server) handleDashboard(w http.ResponseWriter, _ *http.Request) {
	rooms := s.gateway.Rooms()
	view := make([]dashboardRoom, 0, len(rooms))
	for caseID, sessions := range rooms {
		view = append(view, dashboardRoom{CaseID: caseID, Sessions: sessions})
	}
	sort.Slice(view, func(i, j int) bool { return view[i].CaseID < view[j].CaseID })

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = dashboardPage.Execute(w, map[string]any{"Rooms": view})
}
