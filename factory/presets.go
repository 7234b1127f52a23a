package factory

import "fmt"

// StandardRoomJSON is a monthly plan with separate mess, fixed utilities,
// a refundable key deposit and an optional laundry add-on that is cheaper
// for long stays.
func StandardRoomJSON(hostelID, roomType string, rent, deposit, mess int, effectiveFrom string) string {
	return fmt.Sprintf(`{
  "hostel_id": %q,
  "room_type": %q,
  "fee_type": "monthly",
  "amount": "%d",
  "security_deposit": "%d",
  "mess_charge_monthly": "%d",
  "utility_charge_type": "fixed_monthly",
  "electricity_charge": "500",
  "water_charge": "200",
  "effective_from": %q,
  "description": "Standard %s room",
  "components": [
    {
      "name": "Key deposit",
      "type": "deposit",
      "amount": "500",
      "recurring": false,
      "refundable": true,
      "display_order": 1
    },
    {
      "name": "Maintenance",
      "type": "maintenance",
      "amount": "300",
      "proration_allowed": true,
      "taxable": true,
      "tax_percentage": "18",
      "display_order": 2
    },
    {
      "name": "Laundry",
      "type": "amenity",
      "amount": "400",
      "mandatory": false,
      "display_order": 3,
      "rules": [
        {
          "name": "Long stay laundry discount",
          "type": "discount",
          "priority": 10,
          "condition": {"min_stay_months": 6},
          "action": {"percentage": "25"}
        }
      ]
    }
  ]
}`, hostelID, roomType, rent, deposit, mess, effectiveFrom, roomType)
}

// MessIncludedYearlyJSON is a yearly plan with mess and utilities bundled
// into the price.
func MessIncludedYearlyJSON(hostelID, roomType string, yearly, deposit int, effectiveFrom string) string {
	return fmt.Sprintf(`{
  "hostel_id": %q,
  "room_type": %q,
  "fee_type": "yearly",
  "amount": "%d",
  "security_deposit": "%d",
  "includes_mess": true,
  "utility_charge_type": "included",
  "effective_from": %q,
  "description": "All-inclusive yearly %s plan"
}`, hostelID, roomType, yearly, deposit, effectiveFrom, roomType)
}
