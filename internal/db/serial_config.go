package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/banshee-data/spinsense/internal/serialmux"
)

// SerialConfig is a stored serial port configuration for an IMU.
type SerialConfig struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	PortPath    string `json:"port_path"`
	BaudRate    int    `json:"baud_rate"`
	DataBits    int    `json:"data_bits"`
	StopBits    int    `json:"stop_bits"`
	Parity      string `json:"parity"`
	Enabled     bool   `json:"enabled"`
	Description string `json:"description"`
	SensorModel string `json:"sensor_model"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

// PortOptions returns the serial options described by the config.
func (c SerialConfig) PortOptions() serialmux.PortOptions {
	return serialmux.PortOptions{
		BaudRate: c.BaudRate,
		DataBits: c.DataBits,
		StopBits: c.StopBits,
		Parity:   c.Parity,
	}
}

const serialConfigColumns = `id, name, port_path, baud_rate, data_bits, stop_bits, parity, enabled, description, sensor_model, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSerialConfig(row rowScanner) (SerialConfig, error) {
	var c SerialConfig
	var enabled int
	err := row.Scan(&c.ID, &c.Name, &c.PortPath, &c.BaudRate, &c.DataBits, &c.StopBits,
		&c.Parity, &enabled, &c.Description, &c.SensorModel, &c.CreatedAt, &c.UpdatedAt)
	c.Enabled = enabled == 1
	return c, err
}

func (db *DB) querySerialConfigs(where string) ([]SerialConfig, error) {
	rows, err := db.Query(`SELECT ` + serialConfigColumns + ` FROM imu_serial_config ` + where + ` ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query serial configs: %w", err)
	}
	defer rows.Close()

	configs := []SerialConfig{}
	for rows.Next() {
		c, err := scanSerialConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan serial config: %w", err)
		}
		configs = append(configs, c)
	}
	return configs, rows.Err()
}

// GetSerialConfigs returns all serial configurations
func (db *DB) GetSerialConfigs() ([]SerialConfig, error) {
	return db.querySerialConfigs("")
}

// GetEnabledSerialConfigs returns all enabled serial configurations
func (db *DB) GetEnabledSerialConfigs() ([]SerialConfig, error) {
	return db.querySerialConfigs("WHERE enabled = 1")
}

// GetSerialConfig returns a single serial configuration by ID, or nil if
// it does not exist.
func (db *DB) GetSerialConfig(id int) (*SerialConfig, error) {
	c, err := scanSerialConfig(db.QueryRow(`SELECT `+serialConfigColumns+` FROM imu_serial_config WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get serial config: %w", err)
	}
	return &c, nil
}

// CreateSerialConfig normalizes and stores c, setting its ID.
func (db *DB) CreateSerialConfig(c *SerialConfig) error {
	if strings.TrimSpace(c.Name) == "" || strings.TrimSpace(c.PortPath) == "" {
		return fmt.Errorf("serial config needs a name and port path")
	}
	opts, err := c.PortOptions().Normalize()
	if err != nil {
		return fmt.Errorf("invalid serial options: %w", err)
	}
	c.BaudRate, c.DataBits, c.StopBits, c.Parity = opts.BaudRate, opts.DataBits, opts.StopBits, opts.Parity

	enabled := 0
	if c.Enabled {
		enabled = 1
	}
	result, err := db.Exec(`INSERT INTO imu_serial_config (name, port_path, baud_rate, data_bits, stop_bits, parity, enabled, description, sensor_model)
	                        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.Name, c.PortPath, c.BaudRate, c.DataBits, c.StopBits, c.Parity, enabled, c.Description, c.SensorModel)
	if err != nil {
		return fmt.Errorf("failed to create serial config: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert ID: %w", err)
	}
	c.ID = int(id)
	return nil
}

// SetSerialConfigEnabled toggles whether a configuration is used at startup.
func (db *DB) SetSerialConfigEnabled(id int, enabled bool) error {
	v := 0
	if enabled {
		v = 1
	}
	result, err := db.Exec(`UPDATE imu_serial_config SET enabled = ? WHERE id = ?`, v, id)
	if err != nil {
		return fmt.Errorf("failed to update serial config: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("serial config with ID %d not found", id)
	}
	return nil
}

// DeleteSerialConfig deletes a serial configuration
func (db *DB) DeleteSerialConfig(id int) error {
	result, err := db.Exec(`DELETE FROM imu_serial_config WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete serial config: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("serial config with ID %d not found", id)
	}
	return nil
}
