package workflow_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/benefits_backend/config"
	"bitbucket.org/mmdatafocus/benefits_backend/models"
	"bitbucket.org/mmdatafocus/benefits_backend/utils"
	"bitbucket.org/mmdatafocus/benefits_backend/workflow"
	"github.com/google/uuid"
)

// Regression: merging an upload id that does not exist must surface as a
// lookup error, never as a zero-row merge reporting SUCCESS.
func TestMergeUpload_UnknownUploadIdErrors(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()
	service, program := setupPipeline(t, ctx)

	status, err := service.MergeUpload(ctx, uuid.NewString(), program.ID, nil)
	if !errors.Is(err, utils.ErrorRecordNotFound) {
		t.Fatalf("expected ErrorRecordNotFound for unknown upload, got status=%q err=%v", status, err)
	}

	// A real upload still merges end to end.
	csvBytes := []byte("first_name,last_name,dob\nAye,Min,1990-04-01\nSu,Hlaing,1985-12-30\n")
	result, err := service.Ingest(ctx, csvBytes, "text/csv", "import.csv", program.ID, "beneficiary-upload")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if result.RowCount != 2 {
		t.Fatalf("expected 2 rows ingested, got %d", result.RowCount)
	}

	summary, decision, err := service.Validate(ctx, result.UploadID, program.ID)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if summary.InvalidCount != 0 {
		t.Fatalf("expected a fully valid upload, got %d invalid", summary.InvalidCount)
	}
	if decision.Action != workflow.GateActionMerged || decision.Status != models.UploadStatusSuccess {
		t.Fatalf("expected gate to merge with SUCCESS, got %+v", decision)
	}

	db := config.GetDB()
	var beneficiaries int64
	if err := db.Model(&models.Beneficiary{}).Where("program_id = ?", program.ID).Count(&beneficiaries).Error; err != nil {
		t.Fatalf("count beneficiaries: %v", err)
	}
	if beneficiaries != 2 {
		t.Fatalf("expected 2 beneficiaries, got %d", beneficiaries)
	}
}

func setupPipeline(t *testing.T, ctx context.Context) (*workflow.ImportService, *models.BenefitProgram) {
	t.Helper()

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "benefits_test")

	config.ConnectDatabaseWithRetry()
	models.MigrateTable()

	schema := json.RawMessage(`{"properties": {"email": {"type": "string"}}}`)
	program := &models.BenefitProgram{
		ID:        uuid.NewString(),
		Code:      "TEST-01",
		Name:      "Test Program",
		Type:      models.ProgramTypeIndividual,
		Schema:    schema,
		ValidFrom: time.Now().UTC(),
	}
	if err := models.SaveBenefitProgram(ctx, config.GetDB(), program); err != nil {
		t.Fatalf("SaveBenefitProgram: %v", err)
	}

	service := workflow.NewImportService(config.GetDB(), config.GetLogger(), workflow.GateConfig{OnInvalid: "abort"})
	return service, program
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("benefits-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=benefits_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
