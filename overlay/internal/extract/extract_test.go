package extract

import (
	"errors"
	"strings"
	"testing"
)

const conversation = `<html><body>
<div class="nH">
  <h2 class="hP">Your account   has been suspended</h2>
  <div class="gA gt acV">
    <span class="gD" email="security@paypa1.example">PayPal Security</span>
    <span class="g3">Mon, 3 Mar, 10:14</span>
    <div class="aHU hx">
      <p>Dear customer,</p>
      <p>Please <a href="http://paypa1.example/login">verify your account</a> within 24 hours.</p>
      <script>steal()</script>
    </div>
  </div>
</div>
</body></html>`

func TestFromHTML_TextMode(t *testing.T) {
	item, err := FromHTML([]byte(conversation), Options{Mode: ModeText})
	if err != nil {
		t.Fatalf("FromHTML: %v", err)
	}
	if item.Subject != "Your account has been suspended" {
		t.Errorf("Subject: got %q", item.Subject)
	}
	if item.Sender != "PayPal Security <security@paypa1.example>" {
		t.Errorf("Sender: got %q", item.Sender)
	}
	if item.Date != "Mon, 3 Mar, 10:14" {
		t.Errorf("Date: got %q", item.Date)
	}
	if !strings.Contains(item.Body, "Dear customer,\nPlease verify your account within 24 hours.") {
		t.Errorf("Body: got %q", item.Body)
	}
	if strings.Contains(item.Body, "steal") {
		t.Errorf("Body contains script text: %q", item.Body)
	}
}

func TestFromHTML_MarkdownKeepsLinkTargets(t *testing.T) {
	item, err := FromHTML([]byte(conversation), Options{})
	if err != nil {
		t.Fatalf("FromHTML: %v", err)
	}
	if !strings.Contains(item.Body, "http://paypa1.example/login") {
		t.Errorf("Body lost link target: %q", item.Body)
	}
	if !strings.Contains(item.Body, "verify your account") {
		t.Errorf("Body lost link text: %q", item.Body)
	}
	if strings.Contains(item.Body, "steal") || strings.Contains(item.Body, "<script") {
		t.Errorf("Body not sanitized: %q", item.Body)
	}
}

func TestFromHTML_BodyMissing(t *testing.T) {
	doc := `<html><body><h2 class="hP">Loading…</h2></body></html>`
	_, err := FromHTML([]byte(doc), Options{})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("got %v, want ErrUnavailable", err)
	}
}

func TestFromHTML_OptionalFieldsMissing(t *testing.T) {
	doc := `<div class="aHU hx">hello</div>`
	item, err := FromHTML([]byte(doc), Options{Mode: ModeText})
	if err != nil {
		t.Fatalf("FromHTML: %v", err)
	}
	if item.Subject != "" || item.Sender != "" || item.Date != "" {
		t.Errorf("expected empty optional fields, got %+v", item)
	}
	if item.Body != "hello" {
		t.Errorf("Body: got %q", item.Body)
	}
}

func TestFromHTML_CustomSelectors(t *testing.T) {
	doc := `<article><h1 id="s">Hi</h1><section id="b">text</section></article>`
	item, err := FromHTML([]byte(doc), Options{
		Mode:      ModeText,
		Selectors: Selectors{Subject: "#s", Body: "#b"},
	})
	if err != nil {
		t.Fatalf("FromHTML: %v", err)
	}
	if item.Subject != "Hi" || item.Body != "text" {
		t.Errorf("got %+v", item)
	}
}

func TestFromHTML_MaxBodyTruncatesOnRuneBoundary(t *testing.T) {
	doc := `<div class="aHU hx">ééééé</div>`
	item, err := FromHTML([]byte(doc), Options{Mode: ModeText, MaxBody: 5})
	if err != nil {
		t.Fatalf("FromHTML: %v", err)
	}
	if item.Body != "éé" {
		t.Errorf("Body: got %q", item.Body)
	}
}

func TestFromHTML_UnknownMode(t *testing.T) {
	doc := `<div class="aHU hx">x</div>`
	if _, err := FromHTML([]byte(doc), Options{Mode: "pdf"}); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestSender_NameOnly(t *testing.T) {
	doc := `<span class="gD">Alice</span><div class="aHU hx">x</div>`
	item, err := FromHTML([]byte(doc), Options{Mode: ModeText})
	if err != nil {
		t.Fatalf("FromHTML: %v", err)
	}
	if item.Sender != "Alice" {
		t.Errorf("Sender: got %q", item.Sender)
	}
}

func TestPresent(t *testing.T) {
	if !Present([]byte(conversation), "div.gA.gt.acV") {
		t.Error("anchor not found")
	}
	if Present([]byte(conversation), "div.missing") {
		t.Error("missing selector reported present")
	}
}
