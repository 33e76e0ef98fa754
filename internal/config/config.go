package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Sensor sources accepted by SENSOR_SOURCE.
const (
	SourceMock    = "mock"
	SourceMQTT    = "mqtt"
	SourceSerial  = "serial"
	SourceMPU9250 = "mpu9250"
)

// Config holds all application configuration values.
type Config struct {
	// MQTT
	MQTTBroker           string
	MQTTClientIDTracker  string
	MQTTClientIDProducer string
	MQTTClientIDConsole  string
	MQTTClientIDWeb      string

	// Topics
	TopicIMU            string
	TopicActivityChange string
	TopicActivityUpdate string

	// Sensor input: mock, mqtt, serial or mpu9250
	SensorSource string
	MockMode     string // walking or running

	// IMU Hardware
	IMUSPIDevice string
	IMUCSPin     string

	// IMU Sensor Ranges
	// Accelerometer: 0=±2g, 1=±4g, 2=±8g, 3=±16g
	IMUAccelRange byte
	// Gyroscope: 0=±250°/s, 1=±500°/s, 2=±1000°/s, 3=±2000°/s
	IMUGyroRange byte

	// Serial
	SerialPort     string
	SerialBaudRate int

	// Window and timing
	WindowSize         int
	SampleInterval     int // milliseconds
	PredictionInterval int // milliseconds
	BufferPolicy       string
	DegradedUpdates    bool

	// Assets and storage
	ModelPath  string
	ScalerPath string
	DBPath     string // empty disables the activity log

	// Web Server
	WebServerPort int

	LogLevel slog.Level
}

func defaults() *Config {
	return &Config{
		MQTTClientIDTracker:  "activity-tracker",
		MQTTClientIDProducer: "activity-imu-producer",
		MQTTClientIDConsole:  "activity-console",
		MQTTClientIDWeb:      "activity-web",
		TopicIMU:             "activity/imu",
		TopicActivityChange:  "activity/change",
		TopicActivityUpdate:  "activity/update",
		SensorSource:         SourceMock,
		MockMode:             "walking",
		WindowSize:           100,
		SampleInterval:       10,
		PredictionInterval:   1000,
		BufferPolicy:         "rolling",
		WebServerPort:        8080,
		LogLevel:             slog.LevelInfo,
	}
}

// Load reads the configuration file and returns a Config struct. Keys not
// present in the file keep their defaults.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := defaults()
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=VALUE
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Validate required fields
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// SampleEvery returns SAMPLE_INTERVAL as a duration.
func (c *Config) SampleEvery() time.Duration {
	return time.Duration(c.SampleInterval) * time.Millisecond
}

// PredictEvery returns PREDICTION_INTERVAL as a duration.
func (c *Config) PredictEvery() time.Duration {
	return time.Duration(c.PredictionInterval) * time.Millisecond
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	switch key {
	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_TRACKER":
		c.MQTTClientIDTracker = value
	case "MQTT_CLIENT_ID_PRODUCER":
		c.MQTTClientIDProducer = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value
	case "MQTT_CLIENT_ID_WEB":
		c.MQTTClientIDWeb = value

	// Topics
	case "TOPIC_IMU":
		c.TopicIMU = value
	case "TOPIC_ACTIVITY_CHANGE":
		c.TopicActivityChange = value
	case "TOPIC_ACTIVITY_UPDATE":
		c.TopicActivityUpdate = value

	// Sensor input
	case "SENSOR_SOURCE":
		switch value {
		case SourceMock, SourceMQTT, SourceSerial, SourceMPU9250:
			c.SensorSource = value
		default:
			return fmt.Errorf("SENSOR_SOURCE must be one of mock, mqtt, serial, mpu9250, got %q", value)
		}
	case "MOCK_MODE":
		if value != "walking" && value != "running" {
			return fmt.Errorf("MOCK_MODE must be walking or running, got %q", value)
		}
		c.MockMode = value

	// IMU Hardware
	case "IMU_SPI_DEVICE":
		c.IMUSPIDevice = value
	case "IMU_CS_PIN":
		c.IMUCSPin = value

	// IMU Sensor Ranges
	case "IMU_ACCEL_RANGE":
		rangeVal, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid IMU_ACCEL_RANGE %q: %w", value, err)
		}
		if rangeVal < 0 || rangeVal > 3 {
			return fmt.Errorf("IMU_ACCEL_RANGE must be 0-3 (0=±2g, 1=±4g, 2=±8g, 3=±16g), got %d", rangeVal)
		}
		c.IMUAccelRange = byte(rangeVal)
	case "IMU_GYRO_RANGE":
		rangeVal, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid IMU_GYRO_RANGE %q: %w", value, err)
		}
		if rangeVal < 0 || rangeVal > 3 {
			return fmt.Errorf("IMU_GYRO_RANGE must be 0-3 (0=±250°/s, 1=±500°/s, 2=±1000°/s, 3=±2000°/s), got %d", rangeVal)
		}
		c.IMUGyroRange = byte(rangeVal)

	// Serial
	case "SERIAL_PORT":
		c.SerialPort = value
	case "SERIAL_BAUD_RATE":
		rate, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid SERIAL_BAUD_RATE %q: %w", value, err)
		}
		c.SerialBaudRate = rate

	// Window and timing
	case "WINDOW_SIZE":
		size, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid WINDOW_SIZE %q: %w", value, err)
		}
		if size < 2 {
			return fmt.Errorf("WINDOW_SIZE must be at least 2, got %d", size)
		}
		c.WindowSize = size
	case "SAMPLE_INTERVAL":
		interval, err := positiveInt(key, value)
		if err != nil {
			return err
		}
		c.SampleInterval = interval
	case "PREDICTION_INTERVAL":
		interval, err := positiveInt(key, value)
		if err != nil {
			return err
		}
		c.PredictionInterval = interval
	case "BUFFER_POLICY":
		if value != "rolling" && value != "latest" {
			return fmt.Errorf("BUFFER_POLICY must be rolling or latest, got %q", value)
		}
		c.BufferPolicy = value
	case "DEGRADED_UPDATES":
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid DEGRADED_UPDATES %q: %w", value, err)
		}
		c.DegradedUpdates = enabled

	// Assets and storage
	case "MODEL_PATH":
		c.ModelPath = value
	case "SCALER_PATH":
		c.ScalerPath = value
	case "DB_PATH":
		c.DBPath = value

	// Web Server
	case "WEB_SERVER_PORT":
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid WEB_SERVER_PORT %q: %w", value, err)
		}
		if port <= 0 || port > 65535 {
			return fmt.Errorf("WEB_SERVER_PORT must be 1-65535, got %d", port)
		}
		c.WebServerPort = port

	case "LOG_LEVEL":
		if err := c.LogLevel.UnmarshalText([]byte(value)); err != nil {
			return fmt.Errorf("invalid LOG_LEVEL %q: %w", value, err)
		}

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return nil
}

func positiveInt(key, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %d", key, n)
	}
	return n, nil
}

// validate checks that all required fields are set.
func (c *Config) validate() error {
	if c.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required")
	}
	if c.ModelPath == "" {
		return fmt.Errorf("MODEL_PATH is required")
	}
	if c.ScalerPath == "" {
		return fmt.Errorf("SCALER_PATH is required")
	}

	switch c.SensorSource {
	case SourceMQTT:
		if c.TopicIMU == "" {
			return fmt.Errorf("TOPIC_IMU is required for SENSOR_SOURCE=mqtt")
		}
	case SourceSerial:
		if c.SerialPort == "" {
			return fmt.Errorf("SERIAL_PORT is required for SENSOR_SOURCE=serial")
		}
		if c.SerialBaudRate == 0 {
			return fmt.Errorf("SERIAL_BAUD_RATE is required for SENSOR_SOURCE=serial")
		}
	case SourceMPU9250:
		if c.IMUSPIDevice == "" {
			return fmt.Errorf("IMU_SPI_DEVICE is required for SENSOR_SOURCE=mpu9250")
		}
	}
	return nil
}
