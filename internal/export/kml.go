package export

import (
	"bytes"
	"encoding/csv"
	"encoding/xml"
	"strconv"
	"strings"
	"text/template"

	"gpsc-ng/internal/gpsd"
)

var kmlTemplate = template.Must(template.New("kml").Funcs(template.FuncMap{
	"xml": func(s string) string {
		var b strings.Builder
		_ = xml.EscapeText(&b, []byte(s))
		return b.String()
	},
	"coord": func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) },
}).Parse(`<?xml version="1.0" encoding="UTF-8"?>
<kml xmlns="http://www.opengis.net/kml/2.2">
<Document>
   <name>GPSD Position</name>
   <StyleMap id="msn_star">
       <Pair>
           <key>normal</key>
           <styleUrl>#sn_star</styleUrl>
       </Pair>
       <Pair>
           <key>highlight</key>
           <styleUrl>#sh_star</styleUrl>
       </Pair>
   </StyleMap>
   <Style id="sn_star">
       <IconStyle>
           <color>ff7faaff</color>
           <Icon>
               <href>http://maps.google.com/mapfiles/kml/shapes/star.png</href>
           </Icon>
       </IconStyle>
   </Style>
   <Style id="sh_star">
       <IconStyle>
           <color>ff7faaff</color>
           <scale>1.18182</scale>
           <Icon>
               <href>http://maps.google.com/mapfiles/kml/shapes/star.png</href>
           </Icon>
       </IconStyle>
   </Style>
   <Placemark>
       <name>{{xml .View.Name}}</name>
       <Snippet>{{xml .View.Time}}</Snippet>
       <description><![CDATA[
<table>
<tr><th>Latitude</th><td>{{.View.Latitude}}</td></tr>
<tr><th>Longitude</th><td>{{.View.Longitude}}</td></tr>
<tr><th>Altitude</th><td>{{.View.Elevation}}</td></tr>
<tr><th>Time</th><td>{{.View.Time}}</td></tr>
<tr><th>Speed</th><td>{{.View.Speed}}</td></tr>
<tr><th>Track</th><td>{{.View.Track}}</td></tr>
<tr><th>DOP</th><td>{{.View.DOP}}</td></tr>
<tr><th>RMS</th><td>{{.View.RMS}}</td></tr>
<tr><th>Horizontal error</th><td>{{.View.HError}}</td></tr>
</table>
]]></description>
       <styleUrl>#msn_star</styleUrl>
       <Point>
           <coordinates>{{coord .Fix.Longitude}},{{coord .Fix.Latitude}},{{coord .Fix.Altitude}}</coordinates>
       </Point>
   </Placemark>
</Document>
</kml>
`))

// KML renders the record's position as a single-placemark document.
func KML(v View, rec gpsd.Record) ([]byte, error) {
	var buf bytes.Buffer
	data := struct {
		View View
		Fix  gpsd.Fix
	}{v, rec.Fix}
	if err := kmlTemplate.Execute(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// CSV renders the display fields as one comma-separated line.
func CSV(v View) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	err := w.Write([]string{v.Latitude, v.Longitude, v.Elevation, v.Time, v.Speed, v.Track, v.DOP, v.RMS})
	if err != nil {
		return nil, err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
