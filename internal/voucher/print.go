package voucher

import (
	"html/template"
	"io"

	"github.com/leozw/routerfleet/internal/db"
)

var sheet = template.Must(template.New("vouchers").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Vouchers</title>
<style>
  body { font-family: Arial, sans-serif; }
  .voucher { border: 1px solid #ccc; padding: 10px; margin: 10px; width: 200px; display: inline-block; text-align: center; }
  .username { font-weight: bold; font-size: 14px; }
  .password { font-size: 12px; color: #666; }
  .profile, .router { font-size: 10px; color: #999; }
</style>
</head>
<body>
{{- range . }}
  <div class="voucher">
    <div class="username">{{ .Username }}</div>
    <div class="password">Password: {{ .Secret }}</div>
    <div class="profile">{{ .Profile }}</div>
    <div class="router">{{ if .RouterName }}{{ .RouterName }}{{ else }}Unknown Router{{ end }}</div>
  </div>
{{- end }}
</body>
</html>
`))

// RenderSheet writes a printable HTML page with one card per voucher.
func RenderSheet(w io.Writer, vouchers []*db.Voucher) error {
	return sheet.Execute(w, vouchers)
}
