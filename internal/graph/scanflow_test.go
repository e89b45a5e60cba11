package graph

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/hydrosense/hydrochat/internal/state"
	"github.com/hydrosense/hydrochat/pkg/types"
)

// seedScans attaches n scans to patientID, newest first. Scans up to withSTL
// carry an STL URL; even-numbered scans carry a volume estimate.
func seedScans(api *fakeAPI, patientID int64, n, withSTL int) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i := 1; i <= n; i++ {
		s := types.ScanResult{
			ID:              int64(i),
			PatientID:       patientID,
			CreatedAt:       base.Add(-time.Duration(i) * time.Hour),
			PreviewImageURL: fmt.Sprintf("https://files.example.com/previews/%d.png", i),
		}
		if i <= withSTL {
			s.STLFileURL = fmt.Sprintf("https://files.example.com/scans/%d.stl", i)
		}
		if i%2 == 0 {
			v := float64(i) * 1.25
			s.VolumeEstimate = &v
		}
		api.scans[patientID] = append(api.scans[patientID], s)
	}
}

func TestScanFlow_PaginationAndSTL(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	api.add(types.Patient{FirstName: "Lim", LastName: "Wei", NRIC: "S3333333C"})
	seedScans(api, 1, 23, 15)
	e, st := newTestEngine(t, api, nil)

	out := runTurn(t, e, st, "Show scans for Lim Wei")
	if !strings.Contains(out.Reply, "Scan Results for Patient #1") {
		t.Fatalf("turn 1 reply = %q", out.Reply)
	}
	if n := strings.Count(out.Reply, "- Scan "); n != 10 {
		t.Errorf("preview lines = %d, want 10", n)
	}
	if !strings.Contains(out.Reply, "Showing 10 of 23.") {
		t.Errorf("pagination line missing: %q", out.Reply)
	}
	if !strings.Contains(out.Reply, "STL download links") && !strings.Contains(out.Reply, "(yes/no)") {
		t.Errorf("STL question missing: %q", out.Reply)
	}
	if strings.Contains(out.Reply, ".stl") {
		t.Fatal("STL URL disclosed before confirmation")
	}
	if st.DownloadStage != state.StagePreviewShown {
		t.Errorf("stage = %s, want PREVIEW_SHOWN", st.DownloadStage)
	}
	if st.AwaitingConfirmationType != state.ConfirmDownloadSTL {
		t.Errorf("confirmation type = %s, want DOWNLOAD_STL", st.AwaitingConfirmationType)
	}

	out = runTurn(t, e, st, "show more scans")
	if !strings.Contains(out.Reply, "Showing 20 of 23.") {
		t.Fatalf("turn 2 reply = %q", out.Reply)
	}
	if n := strings.Count(out.Reply, "- Scan "); n != 10 {
		t.Errorf("second page lines = %d, want 10", n)
	}
	if strings.Contains(out.Reply, ".stl") {
		t.Fatal("STL URL disclosed during pagination")
	}

	out = runTurn(t, e, st, "yes")
	if n := strings.Count(out.Reply, "Download STL (Scan "); n != 15 {
		t.Errorf("STL links = %d, want 15 for the 20 shown scans", n)
	}
	if n := strings.Count(out.Reply, "(No STL available)"); n != 5 {
		t.Errorf("no-STL lines = %d, want 5", n)
	}
	if !strings.Contains(out.Reply, "https://files.example.com/scans/1.stl") {
		t.Errorf("expected link missing: %q", out.Reply)
	}
	if st.DownloadStage != state.StageSTLLinksSent {
		t.Errorf("stage = %s, want STL_LINKS_SENT", st.DownloadStage)
	}
	if st.ConfirmationRequired {
		t.Error("confirmation still pending after disclosure")
	}
}

func TestScanFlow_DeclineSTL(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	api.add(types.Patient{FirstName: "Lim", LastName: "Wei", NRIC: "S3333333C"})
	seedScans(api, 1, 3, 3)
	e, st := newTestEngine(t, api, nil)

	out := runTurn(t, e, st, "Show scans for Lim Wei")
	if !strings.Contains(out.Reply, "Showing all 3 scan(s).") {
		t.Fatalf("turn 1 reply = %q", out.Reply)
	}
	if !strings.Contains(out.Reply, "Volume 2.50") {
		t.Errorf("volume estimate not rendered: %q", out.Reply)
	}
	if !strings.Contains(out.Reply, "Volume —") {
		t.Errorf("absent volume not rendered as —: %q", out.Reply)
	}

	out = runTurn(t, e, st, "no")
	if out.Reply != replySkipSTL {
		t.Fatalf("turn 2 reply = %q", out.Reply)
	}
	if st.DownloadStage != state.StagePreviewShown {
		t.Errorf("stage = %s, want PREVIEW_SHOWN after decline", st.DownloadStage)
	}
	if strings.Contains(out.Reply, ".stl") {
		t.Error("STL URL disclosed despite decline")
	}
}

func TestScanFlow_UnclearSTLAnswerReprompts(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	api.add(types.Patient{FirstName: "Lim", LastName: "Wei", NRIC: "S3333333C"})
	seedScans(api, 1, 2, 2)
	e, st := newTestEngine(t, api, nil)

	runTurn(t, e, st, "Show scans for Lim Wei")
	out := runTurn(t, e, st, "hmm what do you mean")
	if out.Reply != replySTLRepeat {
		t.Fatalf("reply = %q", out.Reply)
	}
	if !st.ConfirmationRequired {
		t.Error("confirmation dropped by an unclear answer")
	}
}

func TestScanFlow_NoScans(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	api.add(types.Patient{FirstName: "Lim", LastName: "Wei", NRIC: "S3333333C"})
	e, st := newTestEngine(t, api, nil)

	out := runTurn(t, e, st, "Show scans for Lim Wei")
	if out.Reply != "No scans available for patient #1." {
		t.Fatalf("reply = %q", out.Reply)
	}
	if st.ConfirmationRequired || st.PendingAction != state.PendingNone {
		t.Error("empty result left a pending flow")
	}
}

func TestScanFlow_NumericPatientReference(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	api.add(types.Patient{FirstName: "Lim", LastName: "Wei", NRIC: "S3333333C"})
	seedScans(api, 1, 1, 1)
	e, st := newTestEngine(t, api, nil)

	// A numeric reference is used verbatim, no cache round-trip.
	out := runTurn(t, e, st, "show scan results for patient 1")
	if !strings.Contains(out.Reply, "Scan Results for Patient #1") {
		t.Fatalf("reply = %q", out.Reply)
	}
	if st.PatientCacheTimestamp.IsZero() == false {
		t.Error("numeric reference should not load the name cache")
	}
}
