package api

import (
	"sort"

	"github.com/banshee-data/spinsense/internal/serialmux"
)

// SensorModel describes an IMU that can be attached over serial.
type SensorModel struct {
	Slug            string `json:"slug"`
	DisplayName     string `json:"display_name"`
	DefaultBaudRate int    `json:"default_baud_rate"`
	// FullScaleDPS is the largest angular rate the gyro reports.
	FullScaleDPS float64 `json:"full_scale_dps"`
	Description  string  `json:"description"`
}

// SupportedSensorModels is the application-level registry of sensor models
var SupportedSensorModels = map[string]SensorModel{
	"bmi270": {
		Slug:            "bmi270",
		DisplayName:     "Bosch BMI270",
		DefaultBaudRate: serialmux.DefaultBaudRate,
		FullScaleDPS:    2000,
		Description:     "6-axis IMU on a USB bridge running the line firmware",
	},
	"lsm6dso": {
		Slug:            "lsm6dso",
		DisplayName:     "ST LSM6DSO",
		DefaultBaudRate: serialmux.DefaultBaudRate,
		FullScaleDPS:    2000,
		Description:     "6-axis IMU on a USB bridge running the line firmware",
	},
	"mpu6050": {
		Slug:            "mpu6050",
		DisplayName:     "InvenSense MPU-6050",
		DefaultBaudRate: 57600,
		FullScaleDPS:    2000,
		Description:     "Legacy 6-axis IMU, lower link speed",
	},
}

// GetSensorModel looks up a sensor model by slug
func GetSensorModel(slug string) (SensorModel, bool) {
	model, ok := SupportedSensorModels[slug]
	return model, ok
}

// GetAllSensorModels returns all supported sensor models ordered by slug.
func GetAllSensorModels() []SensorModel {
	models := make([]SensorModel, 0, len(SupportedSensorModels))
	for _, model := range SupportedSensorModels {
		models = append(models, model)
	}
	sort.Slice(models, func(i, j int) bool { return models[i].Slug < models[j].Slug })
	return models
}
