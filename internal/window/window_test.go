package window

import (
	"testing"
	"time"

	"miqaatsync/internal/model"
)

func mustResolve(t *testing.T, m *model.Miqaat, s model.Session) Resolved {
	t.Helper()
	r, err := Resolve(m, s)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	return r
}

func TestGateSingleSession(t *testing.T) {
	day := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	m := &model.Miqaat{ID: "mq1", Kind: model.KindSingleSession}
	s := model.Session{
		ID:        "s1",
		Day:       1,
		Start:     day.Add(9 * time.Hour),
		End:       day.Add(10 * time.Hour),
		Reporting: day.Add(9 * time.Hour),
	}
	r := mustResolve(t, m, s)

	tests := []struct {
		name string
		now  time.Time
		want Gate
	}{
		{"minute before start", day.Add(8*time.Hour + 59*time.Minute), NotYetOpen},
		{"exactly at start", day.Add(9 * time.Hour), Open},
		{"mid window", day.Add(9*time.Hour + 30*time.Minute), Open},
		{"exactly at end", day.Add(10 * time.Hour), Open},
		{"minute after end", day.Add(10*time.Hour + 1*time.Minute), Closed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.Gate(tt.now); got != tt.want {
				t.Errorf("Gate(%s) = %v, want %v", tt.now, got, tt.want)
			}
		})
	}
}

func TestClassifyMonotonic(t *testing.T) {
	day := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	m := &model.Miqaat{ID: "mq1", Kind: model.KindSingleSession}
	s := model.Session{
		ID:        "s1",
		Start:     day.Add(9 * time.Hour),
		End:       day.Add(10 * time.Hour),
		Reporting: day.Add(8*time.Hour + 30*time.Minute),
	}
	r := mustResolve(t, m, s)

	order := map[model.Status]int{model.StatusEarly: 0, model.StatusPresent: 1, model.StatusLate: 2}
	prev := -1
	for now := day.Add(8 * time.Hour); now.Before(day.Add(11 * time.Hour)); now = now.Add(5 * time.Minute) {
		got := order[r.Classify(now)]
		if got < prev {
			t.Fatalf("classification regressed at %s", now)
		}
		prev = got
	}

	if got := r.Classify(day.Add(8 * time.Hour)); got != model.StatusEarly {
		t.Errorf("before reporting = %v, want early", got)
	}
	if got := r.Classify(day.Add(9*time.Hour + 30*time.Minute)); got != model.StatusPresent {
		t.Errorf("mid window = %v, want present", got)
	}
	if got := r.Classify(day.Add(10*time.Hour + time.Second)); got != model.StatusLate {
		t.Errorf("past end = %v, want late", got)
	}
}

func TestReportingDefaultsToStart(t *testing.T) {
	day := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	m := &model.Miqaat{ID: "mq1", Kind: model.KindSingleSession}
	s := model.Session{ID: "s1", Start: day.Add(9 * time.Hour), End: day.Add(10 * time.Hour)}
	r := mustResolve(t, m, s)
	if !r.Reporting.Equal(r.Start) {
		t.Errorf("Reporting = %s, want Start %s", r.Reporting, r.Start)
	}
	if got := r.Classify(day.Add(9*time.Hour + 30*time.Minute)); got != model.StatusPresent {
		t.Errorf("Classify mid window = %v, want present", got)
	}
}

func TestResolveMultiDay(t *testing.T) {
	m := &model.Miqaat{
		ID:        "ashara",
		Kind:      model.KindMultiDay,
		StartDate: time.Date(2024, 7, 8, 0, 0, 0, 0, time.UTC),
		Zone:      "Asia/Kolkata",
	}
	// Times of day only; the date parts are irrelevant for multi-day.
	clock := func(h, min int) time.Time {
		return time.Date(2000, 1, 1, h, min, 0, 0, time.UTC)
	}
	s := model.Session{ID: "d3-fajr", Day: 3, Start: clock(6, 0), End: clock(7, 30), Reporting: clock(5, 45)}
	r := mustResolve(t, m, s)

	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		t.Fatal(err)
	}
	wantStart := time.Date(2024, 7, 10, 6, 0, 0, 0, loc)
	if !r.Start.Equal(wantStart) {
		t.Errorf("Start = %s, want %s", r.Start, wantStart)
	}
	wantEnd := time.Date(2024, 7, 10, 7, 30, 0, 0, loc)
	if !r.End.Equal(wantEnd) {
		t.Errorf("End = %s, want %s", r.End, wantEnd)
	}
	wantRep := time.Date(2024, 7, 10, 5, 45, 0, 0, loc)
	if !r.Reporting.Equal(wantRep) {
		t.Errorf("Reporting = %s, want %s", r.Reporting, wantRep)
	}
}

func TestResolveRejectsBadBounds(t *testing.T) {
	day := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	m := &model.Miqaat{ID: "mq1", Kind: model.KindSingleSession}

	tests := []struct {
		name string
		s    model.Session
	}{
		{"end before start", model.Session{ID: "s1", Start: day.Add(10 * time.Hour), End: day.Add(9 * time.Hour)}},
		{"reporting after start", model.Session{
			ID: "s2", Start: day.Add(9 * time.Hour), End: day.Add(10 * time.Hour),
			Reporting: day.Add(9*time.Hour + 10*time.Minute),
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Resolve(m, tt.s); err == nil {
				t.Error("Resolve() expected error, got nil")
			}
		})
	}
}

func TestResolveRejectsBadDayAndZone(t *testing.T) {
	m := &model.Miqaat{ID: "mq1", Kind: model.KindMultiDay, StartDate: time.Now(), Zone: "Mars/Olympus"}
	s := model.Session{ID: "s1", Day: 1, Start: time.Now(), End: time.Now().Add(time.Hour)}
	if _, err := Resolve(m, s); err == nil {
		t.Error("expected error for unknown zone")
	}

	m.Zone = ""
	s.Day = 0
	if _, err := Resolve(m, s); err == nil {
		t.Error("expected error for day index 0")
	}
}
