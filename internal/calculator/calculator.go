package calculator

import (
	"math"
	"time"

	"go.uber.org/zap"
)

// Default rates applied when a route record carries no override.
const (
	DefaultFuelPrice       = 3.50
	DefaultTollRate        = 0.15
	DefaultTruckMPG        = 8.0
	DefaultHourlyRate      = 25.0
	DefaultMaintenanceRate = 0.08
	DefaultInsuranceRate   = 0.05
	AverageSpeedMPH        = 55.0
)

// Rates holds the cost assumptions used across metric calculations.
type Rates struct {
	FuelPricePerGallon float64 `mapstructure:"fuel_price_per_gallon"`
	TollRatePerMile    float64 `mapstructure:"toll_rate_per_mile"`
	TruckMPG           float64 `mapstructure:"truck_mpg"`
	DriverHourlyRate   float64 `mapstructure:"driver_hourly_rate"`
	DriverMileageRate  float64 `mapstructure:"driver_mileage_rate"`
	MaintenancePerMile float64 `mapstructure:"maintenance_per_mile"`
	InsurancePerMile   float64 `mapstructure:"insurance_per_mile"`
}

// DefaultRates returns the standard cost assumptions.
func DefaultRates() Rates {
	return Rates{
		FuelPricePerGallon: DefaultFuelPrice,
		TollRatePerMile:    DefaultTollRate,
		TruckMPG:           DefaultTruckMPG,
		DriverHourlyRate:   DefaultHourlyRate,
		DriverMileageRate:  0.55,
		MaintenancePerMile: DefaultMaintenanceRate,
		InsurancePerMile:   DefaultInsuranceRate,
	}
}

// Calculator derives financial and operational metrics for routes. Every
// method is zero-safe: a divisor of zero yields zero, never a panic or Inf.
type Calculator struct {
	rates  Rates
	logger *zap.Logger
}

// New creates a calculator with the given rates. Zero-valued rate fields
// fall back to defaults.
func New(rates Rates, logger *zap.Logger) *Calculator {
	defaults := DefaultRates()
	if rates.FuelPricePerGallon == 0 {
		rates.FuelPricePerGallon = defaults.FuelPricePerGallon
	}
	if rates.TollRatePerMile == 0 {
		rates.TollRatePerMile = defaults.TollRatePerMile
	}
	if rates.TruckMPG == 0 {
		rates.TruckMPG = defaults.TruckMPG
	}
	if rates.DriverHourlyRate == 0 {
		rates.DriverHourlyRate = defaults.DriverHourlyRate
	}
	if rates.DriverMileageRate == 0 {
		rates.DriverMileageRate = defaults.DriverMileageRate
	}
	if rates.MaintenancePerMile == 0 {
		rates.MaintenancePerMile = defaults.MaintenancePerMile
	}
	if rates.InsurancePerMile == 0 {
		rates.InsurancePerMile = defaults.InsurancePerMile
	}
	return &Calculator{rates: rates, logger: logger}
}

// FuelCost estimates fuel spend for the given miles.
func (c *Calculator) FuelCost(miles, mpg, pricePerGallon float64) float64 {
	if mpg <= 0 {
		mpg = c.rates.TruckMPG
	}
	if pricePerGallon <= 0 {
		pricePerGallon = c.rates.FuelPricePerGallon
	}
	if miles <= 0 || mpg <= 0 {
		return 0
	}
	return round2(miles / mpg * pricePerGallon)
}

// TollCost estimates toll spend at a flat per-mile rate.
func (c *Calculator) TollCost(miles, ratePerMile float64) float64 {
	if ratePerMile <= 0 {
		ratePerMile = c.rates.TollRatePerMile
	}
	if miles <= 0 {
		return 0
	}
	return round2(miles * ratePerMile)
}

// DriverPay returns the larger of hourly and mileage-based pay.
func (c *Calculator) DriverPay(miles, hours, hourlyRate, mileageRate float64) float64 {
	if hourlyRate <= 0 {
		hourlyRate = c.rates.DriverHourlyRate
	}
	if mileageRate <= 0 {
		mileageRate = c.rates.DriverMileageRate
	}

	hourlyPay := hours * hourlyRate
	mileagePay := miles * mileageRate
	return round2(math.Max(hourlyPay, mileagePay))
}

// TripDuration estimates total trip hours for the given distance, assuming
// driving at the averaged highway speed is 80 percent of the trip and loading
// or waiting is the remaining 20 percent.
func (c *Calculator) TripDuration(miles float64) float64 {
	if miles <= 0 {
		return 0
	}
	drivingHours := miles / AverageSpeedMPH
	return round2(drivingHours / 0.8)
}

// ActualDuration returns the elapsed hours between two timestamps, or zero
// when either is missing or the interval is negative.
func (c *Calculator) ActualDuration(start, end *time.Time) float64 {
	if start == nil || end == nil {
		return 0
	}
	hours := end.Sub(*start).Hours()
	if hours < 0 {
		return 0
	}
	return round2(hours)
}

// EfficiencyScore blends how close actual miles came to the great-circle
// optimum (60 percent) with how close actual time came to the scheduled
// window (40 percent). Each term is capped at 100.
func (c *Calculator) EfficiencyScore(optimalMiles, actualMiles, scheduledHours, actualHours float64) float64 {
	if actualMiles <= 0 || actualHours <= 0 {
		return 0
	}

	distanceScore := math.Min(optimalMiles/actualMiles, 1) * 100
	timeScore := math.Min(scheduledHours/actualHours, 1) * 100
	return round2(0.6*distanceScore + 0.4*timeScore)
}

// DistanceEfficiency returns the great-circle optimum as a percentage of
// actual miles driven, capped at 100.
func (c *Calculator) DistanceEfficiency(optimalMiles, actualMiles float64) float64 {
	if actualMiles <= 0 {
		return 0
	}
	return round2(math.Min(optimalMiles/actualMiles, 1) * 100)
}

// AverageSpeed returns miles per hour over the actual duration.
func (c *Calculator) AverageSpeed(miles, hours float64) float64 {
	if hours <= 0 {
		return 0
	}
	return round2(miles / hours)
}

// ProfitMargin returns profit as a percentage of revenue.
func (c *Calculator) ProfitMargin(revenue, totalCosts float64) float64 {
	if revenue <= 0 {
		return 0
	}
	return round2((revenue - totalCosts) / revenue * 100)
}

// CostPerMile returns total costs divided by miles.
func (c *Calculator) CostPerMile(totalCosts, miles float64) float64 {
	if miles <= 0 {
		return 0
	}
	return round2(totalCosts / miles)
}

// RevenuePerMile returns revenue divided by miles.
func (c *Calculator) RevenuePerMile(revenue, miles float64) float64 {
	if miles <= 0 {
		return 0
	}
	return round2(revenue / miles)
}

// DeadheadPercentage returns empty miles as a percentage of total miles.
func (c *Calculator) DeadheadPercentage(totalMiles, emptyMiles float64) float64 {
	if totalMiles <= 0 {
		return 0
	}
	return round2(emptyMiles / totalMiles * 100)
}

// MilesPerGallon returns miles divided by fuel consumed.
func (c *Calculator) MilesPerGallon(miles, gallons float64) float64 {
	if gallons <= 0 {
		return 0
	}
	return round2(miles / gallons)
}

// TotalCosts sums fuel, tolls, driver pay, maintenance, insurance, and any
// other recorded costs for the route.
func (c *Calculator) TotalCosts(fuelCost, tollCost, driverPay, otherCosts, miles float64) float64 {
	maintenance := miles * c.rates.MaintenancePerMile
	insurance := miles * c.rates.InsurancePerMile
	return round2(fuelCost + tollCost + driverPay + otherCosts + maintenance + insurance)
}

// RouteInput carries the fields RouteMetrics reads. Nil pointers mean the
// value was absent from the source record.
type RouteInput struct {
	TotalMiles         *float64
	EmptyMiles         *float64
	FuelConsumed       *float64
	Revenue            *float64
	FuelCost           *float64
	TollCost           *float64
	DriverPay          *float64
	OtherCosts         *float64
	ScheduledStartTime *time.Time
	ScheduledEndTime   *time.Time
	ActualStartTime    *time.Time
	ActualEndTime      *time.Time

	// CalculatedMiles is the great-circle distance between the route's
	// endpoints, when both are geocoded.
	CalculatedMiles *float64
}

// RouteMetrics computes every metric the input supports. Metrics whose
// inputs are absent are omitted from the result rather than reported as
// zero.
func (c *Calculator) RouteMetrics(input RouteInput) map[string]float64 {
	metrics := make(map[string]float64)

	miles := deref(input.TotalMiles)
	if miles > 0 {
		fuelCost := deref(input.FuelCost)
		if fuelCost == 0 {
			fuelCost = c.FuelCost(miles, 0, 0)
		}
		metrics["fuel_cost"] = fuelCost

		tollCost := deref(input.TollCost)
		if tollCost == 0 {
			tollCost = c.TollCost(miles, 0)
		}
		metrics["toll_cost"] = tollCost

		estimatedHours := c.TripDuration(miles)
		metrics["estimated_duration_hours"] = estimatedHours

		driverPay := deref(input.DriverPay)
		if driverPay == 0 {
			actualHours := c.ActualDuration(input.ActualStartTime, input.ActualEndTime)
			hours := actualHours
			if hours == 0 {
				hours = estimatedHours
			}
			driverPay = c.DriverPay(miles, hours, 0, 0)
		}
		metrics["driver_pay"] = driverPay

		totalCosts := c.TotalCosts(fuelCost, tollCost, driverPay, deref(input.OtherCosts), miles)
		metrics["total_costs"] = totalCosts
		metrics["cost_per_mile"] = c.CostPerMile(totalCosts, miles)

		if input.Revenue != nil {
			revenue := *input.Revenue
			metrics["revenue_per_mile"] = c.RevenuePerMile(revenue, miles)
			metrics["profit"] = round2(revenue - totalCosts)
			metrics["profit_margin"] = c.ProfitMargin(revenue, totalCosts)
		}

		if input.EmptyMiles != nil {
			metrics["deadhead_percentage"] = c.DeadheadPercentage(miles, *input.EmptyMiles)
		}

		if input.FuelConsumed != nil && *input.FuelConsumed > 0 {
			metrics["miles_per_gallon"] = c.MilesPerGallon(miles, *input.FuelConsumed)
		}

		actualHours := c.ActualDuration(input.ActualStartTime, input.ActualEndTime)
		if actualHours > 0 {
			metrics["actual_duration_hours"] = actualHours
			metrics["average_speed"] = c.AverageSpeed(miles, actualHours)
		}
		scheduledHours := c.ActualDuration(input.ScheduledStartTime, input.ScheduledEndTime)
		if scheduledHours > 0 {
			metrics["scheduled_duration_hours"] = scheduledHours
		}

		if input.CalculatedMiles != nil && *input.CalculatedMiles > 0 {
			metrics["calculated_distance"] = *input.CalculatedMiles
			metrics["distance_efficiency"] = c.DistanceEfficiency(*input.CalculatedMiles, miles)
			if actualHours > 0 && scheduledHours > 0 {
				metrics["efficiency_score"] = c.EfficiencyScore(*input.CalculatedMiles, miles, scheduledHours, actualHours)
			}
		}
	}

	return metrics
}

// FleetSummary aggregates per-route metrics across a batch.
func (c *Calculator) FleetSummary(routes []map[string]float64) map[string]float64 {
	summary := map[string]float64{
		"route_count": float64(len(routes)),
	}
	if len(routes) == 0 {
		return summary
	}

	var totalCosts, totalProfit, totalEfficiency float64
	var efficiencyCount int
	for _, m := range routes {
		totalCosts += m["total_costs"]
		totalProfit += m["profit"]
		if score, ok := m["efficiency_score"]; ok {
			totalEfficiency += score
			efficiencyCount++
		}
	}

	summary["total_costs"] = round2(totalCosts)
	summary["total_profit"] = round2(totalProfit)
	if efficiencyCount > 0 {
		summary["average_efficiency_score"] = round2(totalEfficiency / float64(efficiencyCount))
	}
	return summary
}

// RouteOutcome ties one route's computed metrics to the driver and vehicle
// that ran it.
type RouteOutcome struct {
	DriverName    string
	VehicleNumber string
	TotalMiles    float64
	Metrics       map[string]float64
}

// DriverPerformance groups route outcomes by driver. Outcomes without a
// driver name are skipped.
func (c *Calculator) DriverPerformance(outcomes []RouteOutcome) map[string]map[string]float64 {
	perf := make(map[string]map[string]float64)
	efficiencyCounts := make(map[string]int)

	for _, o := range outcomes {
		if o.DriverName == "" {
			continue
		}
		d, ok := perf[o.DriverName]
		if !ok {
			d = make(map[string]float64)
			perf[o.DriverName] = d
		}
		d["route_count"]++
		d["total_miles"] += o.TotalMiles
		d["total_driver_pay"] += o.Metrics["driver_pay"]
		d["total_profit"] += o.Metrics["profit"]
		if score, ok := o.Metrics["efficiency_score"]; ok {
			d["average_efficiency_score"] += score
			efficiencyCounts[o.DriverName]++
		}
	}

	for name, d := range perf {
		d["total_miles"] = round2(d["total_miles"])
		d["total_driver_pay"] = round2(d["total_driver_pay"])
		d["total_profit"] = round2(d["total_profit"])
		if n := efficiencyCounts[name]; n > 0 {
			d["average_efficiency_score"] = round2(d["average_efficiency_score"] / float64(n))
		}
		if d["route_count"] > 0 {
			d["average_miles_per_route"] = round2(d["total_miles"] / d["route_count"])
		}
	}
	return perf
}

// VehicleUtilization groups route outcomes by vehicle. Outcomes without a
// vehicle number are skipped.
func (c *Calculator) VehicleUtilization(outcomes []RouteOutcome) map[string]map[string]float64 {
	util := make(map[string]map[string]float64)
	mpgCounts := make(map[string]int)

	for _, o := range outcomes {
		if o.VehicleNumber == "" {
			continue
		}
		v, ok := util[o.VehicleNumber]
		if !ok {
			v = make(map[string]float64)
			util[o.VehicleNumber] = v
		}
		v["route_count"]++
		v["total_miles"] += o.TotalMiles
		v["total_fuel_cost"] += o.Metrics["fuel_cost"]
		v["total_maintenance_cost"] += o.TotalMiles * c.rates.MaintenancePerMile
		if mpg, ok := o.Metrics["miles_per_gallon"]; ok {
			v["average_mpg"] += mpg
			mpgCounts[o.VehicleNumber]++
		}
	}

	for number, v := range util {
		v["total_miles"] = round2(v["total_miles"])
		v["total_fuel_cost"] = round2(v["total_fuel_cost"])
		v["total_maintenance_cost"] = round2(v["total_maintenance_cost"])
		if n := mpgCounts[number]; n > 0 {
			v["average_mpg"] = round2(v["average_mpg"] / float64(n))
		}
		if v["route_count"] > 0 {
			v["average_miles_per_route"] = round2(v["total_miles"] / v["route_count"])
		}
	}
	return util
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
