package source

import (
	"reflect"
	"testing"
)

func TestHTMLToText(t *testing.T) {
	body := `<html><head><title>ignored</title><style>p{}</style></head><body>
<h1>Markets   today</h1>
<p>Stocks <b>rose</b> after the   Fed decision.</p>
<script>track()</script>
<ul><li>One</li><li>Two</li></ul>
</body></html>`

	got := HTMLToText(body)
	want := "Markets today\nStocks rose after the Fed decision.\nOne\nTwo"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestExtractLinks(t *testing.T) {
	body := `<p>
<a href="https://news.example/a#top">A</a>
<a href="#section">anchor</a>
<a href="mailto:x@y.z">mail</a>
<a href="/relative">rel</a>
<a href=" https://news.example/a ">dup</a>
<a href="http://other.example/b?id=1">B</a>
</p>`

	got := ExtractLinks(body)
	want := []string{"https://news.example/a", "http://other.example/b?id=1"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}
