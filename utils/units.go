package utils

// OneMPH is one mile per hour in metres per second.
const OneMPH = 0.44704

// MPHToMPS converts miles per hour to metres per second.
func MPHToMPS(mph float64) float64 { return mph * OneMPH }

// MPSToMPH converts metres per second to miles per hour.
func MPSToMPH(mps float64) float64 { return mps / OneMPH }
