package analytics

import (
	"os"

	"github.com/rezenkai/crmflow/engine"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var _ WorkflowDataCollector = new(LogFileDataCollector)

// LogFileDataCollector appends one JSON line per step and workflow outcome.
type LogFileDataCollector struct {
	fileName string
	logger   *zap.Logger
}

func NewLogFileDataCollector(fileName string) (*LogFileDataCollector, error) {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.StacktraceKey = ""
	logFile, err := os.OpenFile(fileName, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(logFile), zapcore.InfoLevel)
	return &LogFileDataCollector{
		fileName: fileName,
		logger:   zap.New(core),
	}, nil
}

func (lc *LogFileDataCollector) OnEvent(ev engine.Event) {
	fields := []zap.Field{
		zap.String("workflow", ev.WorkflowID),
		zap.String("execution", ev.ExecutionID),
	}
	if ev.TenantID != "" {
		fields = append(fields, zap.String("tenant", ev.TenantID))
	}
	switch ev.Type {
	case engine.EVENT_STEP_COMPLETED:
		fields = append(fields, zap.String("step", ev.StepID), zap.String("stepType", string(ev.StepType)),
			zap.Int("attempts", ev.Attempts), zap.Duration("duration", ev.Duration), zap.Any("data", ev.Result))
		lc.logger.Info("success", fields...)
	case engine.EVENT_STEP_FAILED:
		fields = append(fields, zap.String("step", ev.StepID), zap.String("stepType", string(ev.StepType)),
			zap.Int("attempts", ev.Attempts), zap.String("code", ev.ErrorCode), zap.String("reason", ev.Error))
		lc.logger.Info("failure", fields...)
	case engine.EVENT_WORKFLOW_COMPLETED, engine.EVENT_WORKFLOW_FAILED, engine.EVENT_WORKFLOW_CANCELLED:
		fields = append(fields, zap.String("status", string(ev.Status)), zap.Duration("duration", ev.Duration))
		if ev.Error != "" {
			fields = append(fields, zap.String("code", ev.ErrorCode), zap.String("reason", ev.Error))
		}
		lc.logger.Info("finished", fields...)
	}
}

func (lc *LogFileDataCollector) Close() error {
	_ = lc.logger.Sync()
	return nil
}
