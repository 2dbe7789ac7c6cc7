package netpolicy

import (
	"testing"

	"github.com/mmcdole/lull/internal/domain"
)

type staticSettings domain.NetworkSettings

func (s staticSettings) NetworkSettings() domain.NetworkSettings { return domain.NetworkSettings(s) }

func settings(mode domain.NetworkMode, quality domain.StreamingQuality, cellular bool) domain.NetworkSettings {
	return domain.NetworkSettings{Mode: mode, StreamingQuality: quality, AllowCellularDownload: cellular}
}

func TestStreamDecision(t *testing.T) {
	tests := []struct {
		name   string
		mode   domain.NetworkMode
		conn   domain.Connectivity
		allow  bool
		reason domain.Reason
	}{
		{"offline mode on wifi", domain.NetworkModeOffline, domain.ConnectivityLocal, false, domain.ReasonOfflineMode},
		{"offline mode without network", domain.NetworkModeOffline, domain.ConnectivityNone, false, domain.ReasonOfflineMode},
		{"no connection", domain.NetworkModeStreaming, domain.ConnectivityNone, false, domain.ReasonNoConnection},
		{"wifi only on cellular", domain.NetworkModeWifiOnly, domain.ConnectivityMetered, false, domain.ReasonCellularNotAllowed},
		{"wifi only on wifi", domain.NetworkModeWifiOnly, domain.ConnectivityLocal, true, domain.ReasonNone},
		{"streaming on cellular", domain.NetworkModeStreaming, domain.ConnectivityMetered, true, domain.ReasonNone},
		{"streaming on wifi", domain.NetworkModeStreaming, domain.ConnectivityLocal, true, domain.ReasonNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := StreamDecision(settings(tt.mode, domain.QualityAuto, false), tt.conn)
			if got.Allowed != tt.allow || got.Reason != tt.reason {
				t.Fatalf("StreamDecision = %+v, want allowed=%v reason=%q", got, tt.allow, tt.reason)
			}
		})
	}
}

func TestDownloadDecision(t *testing.T) {
	tests := []struct {
		name     string
		mode     domain.NetworkMode
		conn     domain.Connectivity
		cellular bool
		allow    bool
		reason   domain.Reason
	}{
		{"offline mode on wifi", domain.NetworkModeOffline, domain.ConnectivityLocal, true, false, domain.ReasonOfflineMode},
		{"no connection", domain.NetworkModeStreaming, domain.ConnectivityNone, true, false, domain.ReasonNoConnection},
		{"wifi always allowed", domain.NetworkModeWifiOnly, domain.ConnectivityLocal, false, true, domain.ReasonNone},
		{"cellular not allowed", domain.NetworkModeStreaming, domain.ConnectivityMetered, false, false, domain.ReasonCellularDownloadNotAllowed},
		{"cellular allowed", domain.NetworkModeStreaming, domain.ConnectivityMetered, true, true, domain.ReasonNone},
		{"wifi only mode with cellular downloads allowed", domain.NetworkModeWifiOnly, domain.ConnectivityMetered, true, true, domain.ReasonNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DownloadDecision(settings(tt.mode, domain.QualityAuto, tt.cellular), tt.conn)
			if got.Allowed != tt.allow || got.Reason != tt.reason {
				t.Fatalf("DownloadDecision = %+v, want allowed=%v reason=%q", got, tt.allow, tt.reason)
			}
		})
	}
}

func TestRecommendedQuality(t *testing.T) {
	tests := []struct {
		quality domain.StreamingQuality
		conn    domain.Connectivity
		want    domain.StreamingQuality
	}{
		{domain.QualityAuto, domain.ConnectivityLocal, domain.QualityHigh},
		{domain.QualityAuto, domain.ConnectivityMetered, domain.QualityLow},
		{domain.QualityAuto, domain.ConnectivityNone, domain.QualityLow},
		{domain.QualityHigh, domain.ConnectivityMetered, domain.QualityHigh},
		{domain.QualityLow, domain.ConnectivityLocal, domain.QualityLow},
	}
	for _, tt := range tests {
		got := RecommendedQuality(settings(domain.NetworkModeStreaming, tt.quality, false), tt.conn)
		if got != tt.want {
			t.Errorf("RecommendedQuality(%s, %s) = %s, want %s", tt.quality, tt.conn, got, tt.want)
		}
	}
}

func TestPolicyReadsSourcesOnEveryCall(t *testing.T) {
	src := &mutableConn{c: domain.ConnectivityLocal}
	p := New(staticSettings(settings(domain.NetworkModeWifiOnly, domain.QualityAuto, false)), src, nil, nil)
	if !p.CanStream().Allowed {
		t.Fatal("wifi only on wifi should stream")
	}
	if p.RecommendedQuality() != domain.QualityHigh {
		t.Fatal("auto on wifi should be high")
	}

	src.c = domain.ConnectivityMetered
	d := p.CanStream()
	if d.Allowed || d.Reason != domain.ReasonCellularNotAllowed {
		t.Fatalf("CanStream on cellular = %+v", d)
	}
	if err := d.Err("stream"); !domain.IsPolicyRejection(err) {
		t.Fatalf("Err = %v, want policy rejection", err)
	}
	if p.CanDownload().Reason != domain.ReasonCellularDownloadNotAllowed {
		t.Fatal("cellular download should be refused")
	}
}

type mutableConn struct{ c domain.Connectivity }

func (m *mutableConn) Current() domain.Connectivity { return m.c }

func TestDecisionExamples(t *testing.T) {
	if d := StreamDecision(settings(domain.NetworkModeWifiOnly, domain.QualityAuto, false), domain.ConnectivityMetered); d.Allowed || d.Reason != "cellular_not_allowed" {
		t.Errorf("wifi_only+metered stream = %+v", d)
	}
	if d := DownloadDecision(settings(domain.NetworkModeOffline, domain.QualityAuto, false), domain.ConnectivityLocal); d.Allowed || d.Reason != "offline_mode" {
		t.Errorf("offline+local download = %+v", d)
	}
	if d := DownloadDecision(settings(domain.NetworkModeStreaming, domain.QualityAuto, false), domain.ConnectivityMetered); d.Allowed || d.Reason != "cellular_download_not_allowed" {
		t.Errorf("streaming+metered download = %+v", d)
	}
	if q := RecommendedQuality(settings(domain.NetworkModeStreaming, domain.QualityAuto, false), domain.ConnectivityLocal); q != "high" {
		t.Errorf("streaming+local auto quality = %s", q)
	}
}
