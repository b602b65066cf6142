package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/yjainexcollo/clinicai-intake/adapters/audio"
	"github.com/yjainexcollo/clinicai-intake/adapters/clinicapi"
	"github.com/yjainexcollo/clinicai-intake/domain/entities"
	"github.com/yjainexcollo/clinicai-intake/domain/repositories"
	"github.com/yjainexcollo/clinicai-intake/internal/jobs"
	"github.com/yjainexcollo/clinicai-intake/usecase"
)

const defaultSampleRate = 16000

// app wires the intake services behind a line-oriented terminal session.
type app struct {
	logger      *zap.Logger
	interview   *usecase.InterviewService
	attachments *usecase.AttachmentService
	dictation   *usecase.DictationService

	patientID string
	visitID   string

	recorder *usecase.RecordingService
	blob     *entities.EncodedAudio
}

func main() {
	// Load .env file if present
	_ = godotenv.Load()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	patientID := envOr("PATIENT_ID", "patient-demo")
	visitID := envOr("VISIT_ID", "visit-demo")

	client := clinicapi.NewClient(clinicapi.NewConfigFromEnv(), logger)
	attachments := usecase.NewAttachmentService(client, logger)
	interview := usecase.NewInterviewService(client, attachments, logger)
	poller := jobs.NewPoller(logger, jobs.Options{})
	dictation := usecase.NewDictationService(client, poller, logger)

	a := &app{
		logger:      logger,
		interview:   interview,
		attachments: attachments,
		dictation:   dictation,
		patientID:   patientID,
		visitID:     visitID,
	}

	ctx := context.Background()
	result, err := interview.StartInterview(ctx, patientID, visitID)
	if err != nil {
		logger.Fatal("Failed to start interview", zap.Error(err))
	}
	fmt.Printf("\nQ%d: %s\n", len(result.State.Turns)+1, result.State.PendingQuestion)
	if interview.FirstQuestionIsStructured() {
		fmt.Println("(You may answer with /symptoms fever,cough,... for this question.)")
	}

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "/quit" {
			break
		}
		if line != "" {
			a.dispatch(ctx, line)
		}
		fmt.Print("> ")
	}
}

func (a *app) dispatch(ctx context.Context, line string) {
	if !strings.HasPrefix(line, "/") {
		a.report(a.interview.SubmitAnswer(ctx, line))
		return
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/symptoms":
		symptoms := strings.Split(arg, ",")
		for i := range symptoms {
			symptoms[i] = strings.TrimSpace(symptoms[i])
		}
		a.report(a.interview.SubmitSymptoms(ctx, symptoms))

	case "/attach":
		a.attach(arg)

	case "/remove":
		if err := a.attachments.Remove(arg); err != nil {
			fmt.Println("Error:", err)
		}

	case "/queue":
		for _, staged := range a.attachments.Queue() {
			fmt.Printf("  %s  %s (%s)\n", staged.LocalID, staged.Filename, staged.ContentType)
		}

	case "/edit":
		numText, newText, _ := strings.Cut(arg, " ")
		turnNumber, err := strconv.Atoi(numText)
		if err != nil {
			fmt.Println("Usage: /edit <turn> <new answer>")
			return
		}
		fmt.Println("Editing destroys this answer and every later one. Type yes to continue.")
		if !a.confirm() {
			fmt.Println("Edit canceled.")
			return
		}
		a.report(a.interview.EditAnswer(ctx, turnNumber, newText))

	case "/ocr":
		switch arg {
		case "reupload":
			a.report(a.interview.ResolveOCR(ctx, usecase.OCRResolutionReupload))
		case "proceed":
			a.report(a.interview.ResolveOCR(ctx, usecase.OCRResolutionProceed))
		default:
			fmt.Println("Usage: /ocr reupload|proceed")
		}

	case "/record":
		a.record(ctx, arg)

	case "/transcribe":
		a.transcribe(ctx)

	case "/summary":
		result, err := a.dictation.GenerateSummary(ctx, a.patientID, a.visitID)
		if err != nil {
			fmt.Println("Error:", err)
			return
		}
		fmt.Println(usecase.UserMessage(result))
		if summary, ok := a.dictation.Summary(); ok {
			fmt.Println(summary)
		}

	case "/state":
		a.printState()

	default:
		fmt.Println("Commands: /symptoms /attach /remove /queue /edit /ocr /record /transcribe /summary /state /quit")
	}
}

// report renders a turn result, including the OCR gate and attachment upload
// warnings, and prompts with the next question.
func (a *app) report(result *usecase.TurnResult, err error) {
	if err != nil {
		var failed *usecase.SubmitFailedError
		if errors.As(err, &failed) {
			fmt.Println("Submission failed; your answer was restored:")
			fmt.Printf("  %s\n", failed.RestoredInput)
			return
		}
		fmt.Println("Error:", err)
		return
	}

	if result.AttachmentWarning != nil {
		fmt.Println("Warning: attachments were not uploaded and remain queued:", result.AttachmentWarning)
	}

	if result.OCRPending {
		report := result.OCRReport
		fmt.Printf("Image quality is %s (confidence %.2f).\n", report.Quality, report.Confidence)
		if report.ExtractedText != "" {
			fmt.Println("Extracted so far:", report.ExtractedText)
		}
		for _, suggestion := range report.Suggestions {
			fmt.Println("  -", suggestion)
		}
		fmt.Println("Resolve with /ocr reupload or /ocr proceed.")
		return
	}

	if result.State.Complete {
		fmt.Println("Interview complete.")
		if result.Summary != "" {
			fmt.Println(result.Summary)
		}
		return
	}

	fmt.Printf("[%d%%] Q%d: %s\n",
		result.State.CompletionPercent,
		len(result.State.Turns)+1,
		result.State.PendingQuestion)
	if result.State.AllowsImageUpload {
		fmt.Println("(You may attach medication photos with /attach <path> before answering.)")
	}
}

func (a *app) attach(path string) {
	f, err := os.Open(path)
	if err != nil {
		fmt.Println("Error:", err)
		return
	}
	accepted, rejected := a.attachments.Enqueue([]usecase.StagedFile{{
		Filename:    filepath.Base(path),
		ContentType: mime.TypeByExtension(filepath.Ext(path)),
		Data:        f,
		Preview:     f,
	}})
	for _, name := range rejected {
		fmt.Println("Rejected (unsupported type):", name)
	}
	for _, id := range accepted {
		fmt.Println("Staged:", id)
	}
}

func (a *app) record(ctx context.Context, arg string) {
	switch arg {
	case "start":
		if a.recorder != nil {
			fmt.Println("Recording already in progress.")
			return
		}
		device, err := captureDeviceFromEnv(a.logger)
		if err != nil {
			fmt.Println("Recording is unavailable:", err)
			return
		}
		recorder := usecase.NewRecordingService(device, nil, nil, a.logger)
		if _, err := recorder.StartCapture(ctx); err != nil {
			var unavailable *repositories.CaptureUnavailableError
			if errors.As(err, &unavailable) {
				fmt.Println("Recording is unavailable:", err)
			} else {
				fmt.Println("Error:", err)
			}
			return
		}
		a.recorder = recorder
		fmt.Println("Recording. Stop with /record stop.")

	case "stop":
		if a.recorder == nil {
			fmt.Println("No recording in progress.")
			return
		}
		blob, err := a.recorder.StopCapture()
		a.recorder = nil
		if err != nil {
			fmt.Println("Error:", err)
			return
		}
		a.blob = blob
		fmt.Printf("Recorded %s of audio (%s, %d bytes).\n",
			blob.Duration.Round(100*time.Millisecond), blob.ContainerType, len(blob.Data))

	default:
		fmt.Println("Usage: /record start|stop")
	}
}

func (a *app) transcribe(ctx context.Context) {
	if a.blob == nil {
		fmt.Println("Nothing recorded yet. Use /record first.")
		return
	}
	fmt.Println("Uploading and transcribing; this can take a moment...")
	result, err := a.dictation.Transcribe(ctx, a.visitID, a.blob)
	if err != nil {
		fmt.Println("Error:", err)
		return
	}
	fmt.Println(usecase.UserMessage(result))
	if transcript, ok := a.dictation.Transcript(); ok {
		fmt.Println(transcript)
	}
}

func (a *app) printState() {
	state := a.interview.State()
	fmt.Printf("Visit %s, %d turns, %d%% complete\n",
		state.VisitID, len(state.Turns), state.CompletionPercent)
	for _, turn := range state.Turns {
		fmt.Printf("  %d. %s\n     %s\n", turn.Number, turn.Question, turn.Answer)
		for _, ref := range turn.Attachments {
			fmt.Printf("     [attachment %s]\n", ref.Filename)
		}
	}
	if report := a.interview.PendingOCR(); report != nil {
		fmt.Println("An OCR quality report is awaiting /ocr reupload|proceed.")
	}
}

func (a *app) confirm() bool {
	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(scanner.Text()), "yes")
}

// captureDeviceFromEnv picks the audio source: a bedside device over
// WebSocket when AUDIO_WS_URL is set, otherwise a raw PCM file.
func captureDeviceFromEnv(logger *zap.Logger) (repositories.CaptureDevice, error) {
	sampleRate := defaultSampleRate
	if v := os.Getenv("AUDIO_SAMPLE_RATE"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			sampleRate = parsed
		}
	}

	if url := os.Getenv("AUDIO_WS_URL"); url != "" {
		return audio.NewWebSocketDevice(url, sampleRate, logger), nil
	}
	if path := os.Getenv("AUDIO_PCM_PATH"); path != "" {
		return audio.OpenPCMFile(path, sampleRate, logger)
	}
	return nil, errors.New("set AUDIO_WS_URL or AUDIO_PCM_PATH to enable recording")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
