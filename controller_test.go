package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// errBlock makes the mock hold a wait open until the caller's context expires.
var errBlock = errors.New("block until ctx done")

// errSlow makes the mock resolve a wait successfully after a delay.
var errSlow = errors.New("resolve after a delay")

const slowWait = 150 * time.Millisecond

type mockDriver struct {
	mu          sync.Mutex
	navigated   []string
	clicked     []string
	waitErrs    map[string][]error // successive WaitVisible results per selector
	waitBlock   map[string]bool    // selectors that never appear
	listings    [][]string         // successive ListingNames results
	listCalls   int
	listBlock   bool // ListingNames hangs until the caller's context expires
	supplyErrs  []error // successive SupplyFile results
	supplyCalls int
	closed      bool
}

func newMockDriver() *mockDriver {
	return &mockDriver{
		waitErrs:  map[string][]error{},
		waitBlock: map[string]bool{},
	}
}

func (m *mockDriver) Navigate(ctx context.Context, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.navigated = append(m.navigated, url)
	return nil
}

func (m *mockDriver) WaitVisible(ctx context.Context, sel string) error {
	m.mu.Lock()
	if queue := m.waitErrs[sel]; len(queue) > 0 {
		res := queue[0]
		m.waitErrs[sel] = queue[1:]
		m.mu.Unlock()
		if errors.Is(res, errBlock) {
			<-ctx.Done()
			return ctx.Err()
		}
		if errors.Is(res, errSlow) {
			select {
			case <-time.After(slowWait):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return res
	}
	block := m.waitBlock[sel]
	m.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (m *mockDriver) Click(ctx context.Context, sel string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clicked = append(m.clicked, sel)
	return nil
}

func (m *mockDriver) ListingNames(ctx context.Context, sel string) ([]string, error) {
	if m.listBlock {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.listings) == 0 {
		return nil, nil
	}
	i := m.listCalls
	if i >= len(m.listings) {
		i = len(m.listings) - 1
	}
	m.listCalls++
	return m.listings[i], nil
}

func (m *mockDriver) SupplyFile(ctx context.Context, menuSel, uploadSel, filePath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var err error
	if m.supplyCalls < len(m.supplyErrs) {
		err = m.supplyErrs[m.supplyCalls]
	}
	m.supplyCalls++
	return err
}

func (m *mockDriver) Closed() bool { return m.closed }
func (m *mockDriver) Detach()      {}

func testProfile() *StorageProfile {
	return &StorageProfile{
		ProviderKey:       "test",
		ConsoleBaseURL:    "https://console.example.com/storage",
		BucketName:        "assets",
		UsesCategory:      true,
		ValidCategories:   []string{"finance"},
		PublicURLBase:     "https://cdn.example.com",
		PublicPathPrefix:  "assets",
		DebugPort:         9222,
		ConfirmPort:       18810,
		BootstrapWaitMs:   50,
		LoginWaitMs:       150,
		BrowserStartMs:    1,
		ConfirmTimeoutMs:  100,
		RetryDelayMs:      1,
		GlobalDeadlineMs:  5000,
		NavigateTimeoutMs: 1000,
		Selectors: Selectors{
			ReadyMarker:  "#ready",
			LoginMarker:  "#login",
			LoginButton:  "#loginbtn",
			ListingName:  ".name",
			MenuButton:   "#menu",
			UploadButton: "#upload",
		},
	}
}

func testJob() UploadJob {
	return UploadJob{
		SourceFilePath:   "/tmp/Finance/pic.png",
		SourceFileName:   "pic.png",
		SourceFileSize:   1234,
		Category:         "finance",
		RawLabel:         "ABCD123",
		SkipConfirmation: true,
	}
}

func testController(drv driver, job UploadJob) *Controller {
	c := newController(testProfile(), job, drv)
	c.sleep = func(time.Duration) {}
	c.confirm = func(ctx context.Context, d driver, p *StorageProfile, j UploadJob) (confirmResult, error) {
		return confirmResult{Category: "finance", FolderName: "ABCD123"}, nil
	}
	return c
}

func TestRun_AlreadyExistsShortCircuits(t *testing.T) {
	drv := newMockDriver()
	drv.listings = [][]string{{"other.png", "pic.png"}}

	outcome, err := testController(drv, testJob()).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Success || !outcome.AlreadyExists {
		t.Errorf("want success+alreadyExists, got %+v", outcome)
	}
	if drv.supplyCalls != 0 {
		t.Errorf("expected no upload attempts, got %d", drv.supplyCalls)
	}
	if outcome.PublicURL != "https://cdn.example.com/assets/finance/abcd/lift-123/pic.png" {
		t.Errorf("publicURL = %q", outcome.PublicURL)
	}
}

func TestRun_UploadFirstTry(t *testing.T) {
	drv := newMockDriver()
	drv.listings = [][]string{{}, {"pic.png"}}

	outcome, err := testController(drv, testJob()).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Success || outcome.Retried {
		t.Errorf("want clean success, got %+v", outcome)
	}
	if drv.supplyCalls != 1 {
		t.Errorf("supplyCalls = %d, want 1", drv.supplyCalls)
	}
	if outcome.FilePathOnTarget != "finance/abcd/lift-123/pic.png" {
		t.Errorf("filePathOnTarget = %q", outcome.FilePathOnTarget)
	}
}

func TestRun_NoRetryWhenFileAppearsAfterFailure(t *testing.T) {
	drv := newMockDriver()
	drv.supplyErrs = []error{errors.New("ui glitch")}
	drv.listings = [][]string{{}, {"pic.png"}}

	outcome, err := testController(drv, testJob()).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Success || outcome.Retried {
		t.Errorf("late render must not trigger a retry, got %+v", outcome)
	}
	if drv.supplyCalls != 1 {
		t.Errorf("supplyCalls = %d, want 1", drv.supplyCalls)
	}
}

func TestRun_RetriesOnceWhenStillAbsent(t *testing.T) {
	drv := newMockDriver()
	drv.supplyErrs = []error{errors.New("ui glitch"), nil}
	drv.listings = [][]string{{}, {}}

	outcome, err := testController(drv, testJob()).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Success || !outcome.Retried {
		t.Errorf("want retried success, got %+v", outcome)
	}
	if drv.supplyCalls != 2 {
		t.Errorf("supplyCalls = %d, want 2", drv.supplyCalls)
	}
}

func TestRun_RepeatedFailureIsFatal(t *testing.T) {
	drv := newMockDriver()
	drv.supplyErrs = []error{errors.New("boom"), errors.New("boom")}
	drv.listings = [][]string{{}, {}}

	outcome, err := testController(drv, testJob()).Run(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if kindOf(err) != ErrKindUploadFailed {
		t.Errorf("kind = %v, want ErrKindUploadFailed", kindOf(err))
	}
	if outcome.ErrKind != ErrKindUploadFailed {
		t.Errorf("outcome.ErrKind = %v", outcome.ErrKind)
	}
	if drv.supplyCalls != 2 {
		t.Errorf("supplyCalls = %d, want exactly 2 (one retry)", drv.supplyCalls)
	}
}

func TestRun_ConfirmCancelledIsBenign(t *testing.T) {
	drv := newMockDriver()
	job := testJob()
	job.SkipConfirmation = false

	c := testController(drv, job)
	c.confirm = func(ctx context.Context, d driver, p *StorageProfile, j UploadJob) (confirmResult, error) {
		return confirmResult{}, errConfirmCancelled
	}

	outcome, err := c.Run(context.Background())
	if !errors.Is(err, errConfirmCancelled) {
		t.Fatalf("err = %v, want errConfirmCancelled", err)
	}
	if !outcome.Cancelled {
		t.Error("outcome.Cancelled not set")
	}
	if len(drv.navigated) != 0 {
		t.Errorf("no storage navigation should happen after cancel, got %v", drv.navigated)
	}
	if drv.supplyCalls != 0 {
		t.Error("no upload attempt should happen after cancel")
	}
}

func TestRun_IndeterminatePageIsFatal(t *testing.T) {
	drv := newMockDriver()
	drv.waitBlock["#ready"] = true
	drv.waitBlock["#login"] = true

	_, err := testController(drv, testJob()).Run(context.Background())
	if kindOf(err) != ErrKindUploadUITimeout {
		t.Errorf("kind = %v, want ErrKindUploadUITimeout", kindOf(err))
	}
	if drv.supplyCalls != 0 {
		t.Error("no upload attempt on an unrecognized page")
	}
}

func TestRun_LoginThenUpload(t *testing.T) {
	drv := newMockDriver()
	// Ready marker misses the bootstrap probe, login marker wins; after the
	// login wait the ready marker appears.
	drv.waitErrs["#ready"] = []error{errBlock}
	drv.listings = [][]string{{}, {"pic.png"}}

	outcome, err := testController(drv, testJob()).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Success {
		t.Errorf("want success, got %+v", outcome)
	}
	found := false
	for _, sel := range drv.clicked {
		if sel == "#loginbtn" {
			found = true
		}
	}
	if !found {
		t.Error("login affordance was never clicked")
	}
}

func TestRun_LoginTimeoutVsBrowserClosed(t *testing.T) {
	t.Run("plain timeout", func(t *testing.T) {
		drv := newMockDriver()
		drv.waitErrs["#ready"] = []error{errBlock, errBlock}
		_, err := testController(drv, testJob()).Run(context.Background())
		if kindOf(err) != ErrKindLoginTimeout {
			t.Errorf("kind = %v, want ErrKindLoginTimeout", kindOf(err))
		}
	})
	t.Run("browser closed", func(t *testing.T) {
		drv := newMockDriver()
		drv.waitErrs["#ready"] = []error{errBlock, errBlock}
		drv.closed = true
		_, err := testController(drv, testJob()).Run(context.Background())
		if kindOf(err) != ErrKindBrowserClosed {
			t.Errorf("kind = %v, want ErrKindBrowserClosed", kindOf(err))
		}
	})
}

func TestRun_SlowConfirmationDoesNotConsumeDeadline(t *testing.T) {
	drv := newMockDriver()
	drv.listings = [][]string{{}, {"pic.png"}}
	job := testJob()
	job.SkipConfirmation = false

	c := testController(drv, job)
	c.profile.GlobalDeadlineMs = 80
	c.confirm = func(ctx context.Context, d driver, p *StorageProfile, j UploadJob) (confirmResult, error) {
		// Slower than the global deadline, well inside the confirmation budget.
		time.Sleep(200 * time.Millisecond)
		return confirmResult{Category: "finance", FolderName: "ABCD123"}, nil
	}

	outcome, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("slow-but-in-budget confirmation must not expire the run: %v", err)
	}
	if !outcome.Success {
		t.Errorf("want success, got %+v", outcome)
	}
}

func TestRun_SlowLoginDoesNotConsumeDeadline(t *testing.T) {
	drv := newMockDriver()
	// Ready marker misses the bootstrap probe; after the login wait it
	// resolves, but only after the global deadline's span has elapsed.
	drv.waitErrs["#ready"] = []error{errBlock, errSlow}
	drv.listings = [][]string{{}, {"pic.png"}}

	c := testController(drv, testJob())
	c.profile.GlobalDeadlineMs = 80
	c.profile.LoginWaitMs = 1000

	outcome, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("slow-but-in-budget login must not expire the run: %v", err)
	}
	if !outcome.Success {
		t.Errorf("want success, got %+v", outcome)
	}
}

func TestRun_GlobalDeadlineMapsToRunTimeout(t *testing.T) {
	drv := newMockDriver()
	drv.listBlock = true

	c := testController(drv, testJob())
	c.profile.GlobalDeadlineMs = 50

	outcome, err := c.Run(context.Background())
	if kindOf(err) != ErrKindRunTimeout {
		t.Errorf("kind = %v, want ErrKindRunTimeout", kindOf(err))
	}
	if outcome.ErrKind != ErrKindRunTimeout {
		t.Errorf("outcome.ErrKind = %v, want ErrKindRunTimeout", outcome.ErrKind)
	}
}

func TestRun_InvalidCategoryFailsBeforeNavigation(t *testing.T) {
	drv := newMockDriver()
	job := testJob()
	job.Category = "sales"

	_, err := testController(drv, job).Run(context.Background())
	if kindOf(err) != ErrKindInvalidInput {
		t.Fatalf("kind = %v, want ErrKindInvalidInput", kindOf(err))
	}
	if len(drv.navigated) != 0 {
		t.Error("must not navigate with an invalid category")
	}
}

func TestRun_BadLabelFailsBeforeNavigation(t *testing.T) {
	drv := newMockDriver()
	job := testJob()
	job.RawLabel = "nodigits"

	_, err := testController(drv, job).Run(context.Background())
	if kindOf(err) != ErrKindLabelFormat {
		t.Fatalf("kind = %v, want ErrKindLabelFormat", kindOf(err))
	}
	if len(drv.navigated) != 0 {
		t.Error("must not navigate with an unparsable label")
	}
}
